package app

import (
	"context"
	"errors"
	"fmt"

	"power-butler/internal/alerting"
)

// LinkChat stores the chat that last messaged the bot as the notification recipient.
func (a *App) LinkChat(ctx context.Context) error {
	if a.Config.Alerting.Telegram.BotToken == "" {
		return errors.New("alerting.telegram.bot_token is not configured")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	chatID, err := a.newTelegram(store).LinkChat(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "linked telegram chat %s\n", chatID)
	return nil
}

// NotifyTest sends a plain text message through the configured notifier.
func (a *App) NotifyTest(ctx context.Context, text string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := a.newNotifier(store).Notify(ctx, alerting.Message{Text: text}); err != nil {
		return err
	}
	a.Logger.Info().Msg("test notification sent")
	return nil
}
