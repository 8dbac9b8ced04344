// Package telegram is the Telegram front-end: a minimal Bot API client that
// implements core.Sender, and a long-polling Poller that turns chat
// commands into requests.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// ParseModeMarkdownV2 is the rich text mode used for text replies.
const ParseModeMarkdownV2 = "MarkdownV2"

// APIError is a Bot API call answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// ClientOptions configure a Client.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client calls the Bot API for a single bot token.
type Client struct {
	token string
	opts  ClientOptions
}

var _ core.Sender = (*Client)(nil)

// NewClient creates a client for the bot identified by token.
func NewClient(token string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{token: token, opts: opts}
}

// SendText implements core.Sender. A rich message rejected because of its
// markup fails with an error wrapping core.ErrRichFormat.
func (c *Client) SendText(ctx context.Context, conversationID, replyTo int64, text string, rich bool) error {
	payload := map[string]any{
		"chat_id":                     conversationID,
		"text":                        text,
		"reply_to_message_id":         replyTo,
		"allow_sending_without_reply": true,
	}
	if rich {
		payload["parse_mode"] = ParseModeMarkdownV2
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	err = c.call(ctx, "sendMessage", "application/json", bytes.NewReader(body), nil)
	if rich && isParseError(err) {
		return fmt.Errorf("%w: %w", core.ErrRichFormat, err)
	}
	return err
}

// SendBinary implements core.Sender by uploading data as a photo.
func (c *Client) SendBinary(ctx context.Context, conversationID, replyTo int64, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"chat_id":                     strconv.FormatInt(conversationID, 10),
		"reply_to_message_id":         strconv.FormatInt(replyTo, 10),
		"allow_sending_without_reply": "true",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("build sendPhoto: %w", err)
		}
	}
	part, err := w.CreateFormFile("photo", "image.png")
	if err != nil {
		return fmt.Errorf("build sendPhoto: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("build sendPhoto: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build sendPhoto: %w", err)
	}

	return c.call(ctx, "sendPhoto", w.FormDataContentType(), &buf, nil)
}

// GetUpdates long-polls for updates after offset. timeout is the server
// side wait in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(timeout))
	q.Set("allowed_updates", `["message"]`)

	var updates []Update
	if err := c.get(ctx, "getUpdates", q, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.get(ctx, "getMe", nil, &me)
	return me, err
}

func (c *Client) get(ctx context.Context, method string, q url.Values, out any) error {
	endpoint := c.endpoint(method)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &core.TransportError{Op: "telegram " + method, Err: err}
	}
	return c.do(req, method, out)
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), body)
	if err != nil {
		return &core.TransportError{Op: "telegram " + method, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, method, out)
}

func (c *Client) endpoint(method string) string {
	return c.opts.BaseURL + "/bot" + c.token + "/" + method
}

// do executes req and decodes the Bot API envelope. Transport failures never
// include the request URL, which carries the token.
func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &core.TransportError{Op: "telegram " + method, Err: err}
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &core.DecodeError{What: "telegram " + method, Err: err}
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		c.opts.Logger.Debug("Telegram API call rejected", "method", method, "code", code, "description", env.Description)
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &core.DecodeError{What: "telegram " + method, Err: err}
		}
	}
	return nil
}

// isParseError reports whether the Bot API rejected the message markup.
func isParseError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Description, "can't parse entities")
}
