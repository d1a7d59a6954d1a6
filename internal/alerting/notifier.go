package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"power-butler/internal/storage"
)

// ChatIDKey is the state store key holding the linked Telegram chat.
const ChatIDKey = "telegram.chat_id"

// ErrNoRecipient is returned when no chat id is configured or linked.
var ErrNoRecipient = errors.New("alerting: no telegram chat linked; run `powerbutler notify link`")

// Attachment is a PNG image sent after the message text.
type Attachment struct {
	Name    string
	Caption string
	PNG     []byte
}

// Message is a text summary with optional chart attachments.
type Message struct {
	Text        string
	Attachments []Attachment
}

// Notifier delivers messages. Failures are returned to the caller and not retried.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	state    storage.StateStore
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier. A static chatID wins over the
// one linked in state; state may be nil.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, state storage.StateStore, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		state:    state,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the text via sendMessage, then each attachment via sendPhoto.
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	chatID, err := n.recipient(ctx)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    msg.Text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}
	if err := n.call(ctx, "sendMessage", "application/json", bytes.NewReader(body), nil); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		if len(att.PNG) == 0 {
			continue
		}
		if err := n.sendPhoto(ctx, chatID, att); err != nil {
			return err
		}
	}

	n.logger.Info().Int("attachments", len(msg.Attachments)).Msg("notification sent (Telegram)")
	return nil
}

func (n *TelegramNotifier) recipient(ctx context.Context) (string, error) {
	if n.chatID != "" {
		return n.chatID, nil
	}
	if n.state == nil {
		return "", ErrNoRecipient
	}
	chatID, err := n.state.GetState(ctx, ChatIDKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && chatID == "") {
		return "", ErrNoRecipient
	}
	if err != nil {
		return "", fmt.Errorf("resolve telegram chat: %w", err)
	}
	return chatID, nil
}

func (n *TelegramNotifier) sendPhoto(ctx context.Context, chatID string, att Attachment) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("chat_id", chatID)
	if att.Caption != "" {
		_ = form.WriteField("caption", att.Caption)
	}
	name := att.Name
	if name == "" {
		name = "chart.png"
	}
	part, err := form.CreateFormFile("photo", name)
	if err != nil {
		return fmt.Errorf("build telegram photo form: %w", err)
	}
	if _, err := part.Write(att.PNG); err != nil {
		return fmt.Errorf("build telegram photo form: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("build telegram photo form: %w", err)
	}
	return n.call(ctx, "sendPhoto", form.FormDataContentType(), &buf, nil)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (n *TelegramNotifier) call(ctx context.Context, method, contentType string, body io.Reader, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
	httpMethod := http.MethodPost
	if body == nil {
		httpMethod = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, body)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redactToken(err, n.botToken))
	}
	defer resp.Body.Close()

	var parsed apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Description != "" {
			return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode, parsed.Description)
		}
		return fmt.Errorf("telegram %s: unexpected status %d", method, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, decodeErr)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram %s: ok=false: %s", method, parsed.Description)
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// redactToken keeps the bot token out of url errors.
func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

// LogNotifier writes messages to the log when Telegram is disabled.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the message text.
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info().Int("attachments", len(msg.Attachments)).Msg(msg.Text)
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
