package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	cmdpkg "github.com/stupiduntilnot/freepsy/internal/commander"
)

// MaxMessageChars is Telegram's limit on message text length.
const MaxMessageChars = 4096

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// APIError is an ok:false answer, e.g. HTML the server could not parse.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: code=%d %s", e.Method, e.Code, e.Description)
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

type inlineMarkup struct {
	InlineKeyboard cmdpkg.Keyboard `json:"inline_keyboard"`
}

type sendRequest struct {
	ChatID      int64         `json:"chat_id"`
	MessageID   int64         `json:"message_id,omitempty"`
	Text        string        `json:"text"`
	ParseMode   string        `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineMarkup `json:"reply_markup,omitempty"`
}

// GetUpdates long-polls for messages and callback queries.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message","callback_query"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create getUpdates request: %w", err)
	}
	var raws []Update
	if err := c.do(req, "getUpdates", &raws); err != nil {
		return nil, err
	}
	updates := make([]Update, 0, len(raws))
	for _, u := range raws {
		if u.Message == nil && u.Callback == nil {
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// SendMessage sends plain text to the given chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	return c.send(ctx, "sendMessage", sendRequest{ChatID: chatID, Text: truncate(text, MaxMessageChars)})
}

// SendHTML sends HTML text, optionally with an inline keyboard.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string, kb cmdpkg.Keyboard) (int64, error) {
	return c.send(ctx, "sendMessage", sendRequest{
		ChatID:      chatID,
		Text:        truncate(text, MaxMessageChars),
		ParseMode:   "HTML",
		ReplyMarkup: markup(kb),
	})
}

// EditHTML edits a message previously sent by the bot.
func (c *Client) EditHTML(ctx context.Context, chatID, messageID int64, text string, kb cmdpkg.Keyboard) error {
	_, err := c.send(ctx, "editMessageText", sendRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        truncate(text, MaxMessageChars),
		ParseMode:   "HTML",
		ReplyMarkup: markup(kb),
	})
	return err
}

// SendTyping shows the "typing..." indicator for a few seconds.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.post(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": "typing"}, nil)
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
		payload["show_alert"] = alert
	}
	return c.post(ctx, "answerCallbackQuery", payload, nil)
}

func (c *Client) send(ctx context.Context, method string, reqBody sendRequest) (int64, error) {
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.post(ctx, method, reqBody, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (c *Client) post(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK {
		return &APIError{Method: method, Code: tgResp.ErrorCode, Description: tgResp.Description}
	}
	if out == nil || len(tgResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(tgResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

func markup(kb cmdpkg.Keyboard) *inlineMarkup {
	if len(kb) == 0 {
		return nil
	}
	return &inlineMarkup{InlineKeyboard: kb}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
