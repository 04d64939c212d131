package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"anomalyd/internal/digest"
	"anomalyd/internal/model"
	"anomalyd/internal/task/engine"
)

// telegramMaxText is the Bot API message length limit.
const telegramMaxText = 4096

// Telegram sends digests as plain text to telegram://<chat>[/<thread>].
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram builds an offline bot: no update polling, sends only.
// apiURL overrides the Bot API base URL when non-empty.
func NewTelegram(token, apiURL string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(token),
		URL:     apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

// ParseChat splits a telegram destination into chat and thread ids.
func ParseChat(dest *url.URL) (chatID int64, threadID int, err error) {
	chatID, err = strconv.ParseInt(dest.Host, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram chat id %q: %w", dest.Host, err)
	}
	if p := strings.Trim(dest.Path, "/"); p != "" {
		threadID, err = strconv.Atoi(p)
		if err != nil {
			return 0, 0, fmt.Errorf("telegram thread id %q: %w", p, err)
		}
	}
	return chatID, threadID, nil
}

func (tg *Telegram) Send(ctx context.Context, dest *url.URL, t model.Target, msg digest.Message) error {
	chatID, threadID, err := ParseChat(dest)
	if err != nil {
		return engine.NoRetry(err)
	}
	text := msg.PlainText()
	if name := strings.TrimSpace(t.Name); name != "" {
		text = name + "\n" + text
	}
	text = clip(text, telegramMaxText)

	// telebot has no context support; give up waiting once ctx is done.
	done := make(chan error, 1)
	go func() {
		_, err := tg.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		return classifyTelegram(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyTelegram(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return engine.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return engine.NoRetry(&SendError{Status: apiErr.Code, Body: apiErr.Description})
	}
	return err
}

func clip(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	cut := maxN - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
