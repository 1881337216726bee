// Package telegram posts order notifications to a Telegram chat through the
// Bot API.
package telegram

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"

	"github.com/xenking/marketplace/internal/notify"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config identifies the bot and the target chat.
type Config struct {
	Token  string
	ChatID string
	APIURL string
}

// Enabled reports whether both the bot token and chat id are set.
func (c Config) Enabled() bool {
	return c.Token != "" && c.ChatID != ""
}

// APIError is a non-ok Bot API reply.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return "telegram: " + http.StatusText(e.StatusCode) + ": " + e.Description
}

var _ notify.Channel = (*Client)(nil)

// Client is a notify.Channel sending HTML-formatted chat messages.
type Client struct {
	cfg  Config
	http *http.Client
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// New creates a Client. A nil httpClient means http.DefaultClient.
//
// Requests go through a circuit breaker that opens after five consecutive
// failures and probes again after a minute.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "telegram",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *Client) Name() string { return "chat" }

// Send posts the summary to the configured chat.
func (c *Client) Send(ctx context.Context, s notify.Summary) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.sendMessage(ctx, s.HTML())
	})
	return err
}

func (c *Client) sendMessage(ctx context.Context, text string) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("chat_id", func(e *jx.Encoder) { e.Str(c.cfg.ChatID) })
		e.Field("text", func(e *jx.Encoder) { e.Str(text) })
		e.Field("parse_mode", func(e *jx.Encoder) { e.Str("HTML") })
		e.Field("disable_web_page_preview", func(e *jx.Encoder) { e.Bool(true) })
	})

	endpoint := c.cfg.APIURL + "/bot" + c.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return errors.Wrap(err, "send message")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	ok, description := parseReply(body)
	if resp.StatusCode != http.StatusOK || !ok {
		return &APIError{StatusCode: resp.StatusCode, Description: description}
	}
	return nil
}

// parseReply extracts the ok flag and description from a Bot API reply.
// Malformed bodies are treated as failures.
func parseReply(body []byte) (ok bool, description string) {
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "ok":
			v, err := d.Bool()
			ok = v
			return err
		case "description":
			v, err := d.Str()
			description = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return false, "malformed response"
	}
	return ok, description
}
