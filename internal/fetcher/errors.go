package fetcher

import (
	"errors"
	"fmt"
)

// ErrPriceDataNotAvailable matches every PriceDataNotAvailableError via errors.Is.
var ErrPriceDataNotAvailable = errors.New("price data not yet published")

// PriceDataNotAvailableError reports a successful response that does not carry
// the requested day's price curve. The feed publishes around 15:00 local time.
type PriceDataNotAvailableError struct {
	Date   string
	Reason string
}

func (e *PriceDataNotAvailableError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("%s: %s", ErrPriceDataNotAvailable, e.Reason)
	}
	return fmt.Sprintf("%s for %s: %s", ErrPriceDataNotAvailable, e.Date, e.Reason)
}

func (e *PriceDataNotAvailableError) Is(target error) bool {
	return target == ErrPriceDataNotAvailable
}

func notPublished(format string, args ...any) error {
	return &PriceDataNotAvailableError{Reason: fmt.Sprintf(format, args...)}
}

// TransientNetworkError is a connection failure, timeout, 429 or 5xx response.
type TransientNetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient http error (%d) from %s: %v", e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("transient network error from %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-retryable error response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error (%d) from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("http error (%d) from %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientNetworkError
	return errors.As(err, &transient)
}
