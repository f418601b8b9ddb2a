package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const telegramAPIBase = "https://api.telegram.org/bot%s/sendMessage"

// TelegramNotifier delivers a Report as an HTML message over the
// Telegram bot HTTPS API, adapted from the teacher's HTTPEventEmitter
// (POST JSON, short client timeout, best-effort — failures are logged
// and swallowed here rather than returned, per spec §4.8).
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type telegramPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (n *TelegramNotifier) Notify(ctx context.Context, report Report) bool {
	if n.botToken == "" || n.chatID == "" {
		return true // no channel configured: treat as a no-op success
	}

	payload := telegramPayload{ChatID: n.chatID, Text: FormatHTML(report), ParseMode: "HTML"}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to marshal telegram payload")
		return false
	}

	url := fmt.Sprintf(telegramAPIBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to build telegram request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("telegram delivery failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Ctx(ctx).Error().Int("status", resp.StatusCode).Msg("telegram returned non-200")
		return false
	}
	return true
}
