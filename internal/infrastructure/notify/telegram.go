// Package notify delivers formatted alerts to external messaging services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const DefaultTelegramAPIURL = "https://api.telegram.org"

var ErrNotConfigured = errors.New("telegram bot token or chat id missing")

// TelegramChannel posts messages through the Telegram Bot API sendMessage method.
type TelegramChannel struct {
	endpoint string
	token    string
	chatID   int64
	channel  string
	client   tgbotapi.HTTPClient
}

// NewTelegramChannel returns a channel, or ErrNotConfigured when token or chatID is empty.
// chatID is a numeric chat id or a public channel name like "@bins".
func NewTelegramChannel(apiURL, token, chatID string, client *http.Client) (*TelegramChannel, error) {
	if token == "" || chatID == "" {
		return nil, ErrNotConfigured
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}

	c := &TelegramChannel{
		endpoint: strings.TrimRight(apiURL, "/") + "/bot%s/%s",
		token:    token,
		client:   client,
	}
	if strings.HasPrefix(chatID, "@") {
		c.channel = chatID
		return c, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram chat id %q: want a number or @channel", chatID)
	}
	c.chatID = id
	return c, nil
}

// contextClient binds one call's context to the requests the bot API builds.
type contextClient struct {
	ctx  context.Context
	next tgbotapi.HTTPClient
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}

// bot builds an API handle without the getMe round trip NewBotAPI makes.
func (c *TelegramChannel) bot(ctx context.Context) *tgbotapi.BotAPI {
	api := &tgbotapi.BotAPI{
		Token:  c.token,
		Buffer: 100,
		Client: contextClient{ctx: ctx, next: c.client},
	}
	api.SetAPIEndpoint(c.endpoint)
	return api
}

// SendText sends text to the configured chat. The deadline comes from ctx.
func (c *TelegramChannel) SendText(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	if c.channel != "" {
		msg = tgbotapi.NewMessageToChannel(c.channel, text)
	}
	msg.DisableWebPagePreview = true

	if _, err := c.bot(ctx).Send(msg); err != nil {
		// transport errors carry the url, which carries the token
		return fmt.Errorf("telegram sendMessage: %w", redact(err, c.token))
	}
	return nil
}

func redact(err error, secret string) error {
	msg := err.Error()
	if secret == "" || !strings.Contains(msg, secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, secret, "<token>"))
}
