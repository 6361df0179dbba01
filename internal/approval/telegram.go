package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
)

const (
	callbackApprove = "approve:"
	callbackReject  = "reject:"
)

// TelegramTransport publishes decisions to Telegram chats with inline
// approve/reject buttons and reports the callbacks as Responses.
type TelegramTransport struct {
	api       *tgbotapi.BotAPI
	chatIDs   []int64
	responses chan Response
	logger    zerolog.Logger
}

// NewTelegramTransport creates the transport and starts its update loop.
func NewTelegramTransport(ctx context.Context, botToken string, chatIDs []int64) (*TelegramTransport, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if len(chatIDs) == 0 {
		return nil, fmt.Errorf("at least one chat id is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}

	t := &TelegramTransport{
		api:       api,
		chatIDs:   chatIDs,
		responses: make(chan Response, 32),
		logger:    log.With().Str("component", "telegram_approval").Logger(),
	}

	t.logger.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram approval transport initialized")

	go t.updateLoop(ctx)
	return t, nil
}

func (t *TelegramTransport) Name() string {
	return "telegram"
}

// Publish sends the decision with inline buttons. Success requires at
// least one chat to accept the message.
func (t *TelegramTransport) Publish(ctx context.Context, d *ensemble.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := formatDecision(d)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackApprove+d.ID.String()),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", callbackReject+d.ID.String()),
		),
	)

	var lastErr error
	delivered := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "Markdown"
		msg.ReplyMarkup = keyboard

		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to publish decision")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("publish to telegram: %w", lastErr)
	}

	t.logger.Info().
		Str("decision_id", d.ID.String()).
		Int("delivered", delivered).
		Msg("Decision published for approval")
	return nil
}

// Responses streams approve/reject callbacks.
func (t *TelegramTransport) Responses() <-chan Response {
	return t.responses
}

func (t *TelegramTransport) updateLoop(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery == nil {
				continue
			}
			t.handleCallback(update.CallbackQuery)
		}
	}
}

func (t *TelegramTransport) handleCallback(cb *tgbotapi.CallbackQuery) {
	var verdict Verdict
	var decisionID string
	switch {
	case strings.HasPrefix(cb.Data, callbackApprove):
		verdict = VerdictApproved
		decisionID = strings.TrimPrefix(cb.Data, callbackApprove)
	case strings.HasPrefix(cb.Data, callbackReject):
		verdict = VerdictRejected
		decisionID = strings.TrimPrefix(cb.Data, callbackReject)
	default:
		return
	}

	if _, err := t.api.Request(tgbotapi.NewCallback(cb.ID, string(verdict))); err != nil {
		t.logger.Warn().Err(err).Msg("Callback ack failed")
	}

	resp := Response{
		DecisionID: decisionID,
		Verdict:    verdict,
		Responder:  cb.From.UserName,
		At:         time.Now().UTC(),
	}

	select {
	case t.responses <- resp:
		t.logger.Info().
			Str("decision_id", decisionID).
			Str("verdict", string(verdict)).
			Str("responder", resp.Responder).
			Msg("Approval response received")
	default:
		t.logger.Warn().Str("decision_id", decisionID).Msg("Response channel full, dropping callback")
	}
}

func formatDecision(d *ensemble.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 *%s %s*\n\n", d.Action, d.Instrument.Symbol)
	fmt.Fprintf(&b, "Venue: `%s`\n", d.Instrument.Venue)
	fmt.Fprintf(&b, "Confidence: `%d%%`\n", d.Confidence)
	fmt.Fprintf(&b, "Entry: `%.4f`\n", d.Entry)
	if d.StopLoss > 0 {
		fmt.Fprintf(&b, "Stop: `%.4f`\n", d.StopLoss)
	}
	if d.TakeProfit > 0 {
		fmt.Fprintf(&b, "Target: `%.4f`\n", d.TakeProfit)
	}
	fmt.Fprintf(&b, "Tier: `%s`  Quorum: `%v`\n", d.Meta.FallbackTier, d.Meta.QuorumMet)
	fmt.Fprintf(&b, "\n_Decision %s at %s_", d.ID, d.CreatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}
