package alerting

import (
	"context"
	"errors"
	"strconv"
)

// ErrNoUpdates is returned by LinkChat when nobody has messaged the bot yet.
var ErrNoUpdates = errors.New("alerting: no messages received by the bot; send it /start first")

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// LinkChat reads pending bot updates and stores the most recent chat id in
// the state store, replacing the /start handshake of an interactive bot.
func (n *TelegramNotifier) LinkChat(ctx context.Context) (string, error) {
	if n.state == nil {
		return "", errors.New("alerting: no state store to link chat into")
	}

	var updates []update
	if err := n.call(ctx, "getUpdates", "", nil, &updates); err != nil {
		return "", err
	}

	var chatID string
	for _, u := range updates {
		if u.Message != nil && u.Message.Chat.ID != 0 {
			chatID = strconv.FormatInt(u.Message.Chat.ID, 10)
		}
	}
	if chatID == "" {
		return "", ErrNoUpdates
	}

	if err := n.state.SetState(ctx, ChatIDKey, chatID); err != nil {
		return "", err
	}
	n.logger.Info().Str("chat_id", chatID).Msg("telegram chat linked")
	return chatID, nil
}
