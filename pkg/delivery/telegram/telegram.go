// Package telegram delivers backup artifacts through the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/delivery"
)

// Channel sends documents and messages to a single Telegram chat
type Channel struct {
	cfg        config.TelegramConfig
	httpClient *http.Client
	uploadWait time.Duration
}

// NewChannel creates a Telegram delivery channel
func NewChannel(cfg config.TelegramConfig) (*Channel, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat ID are required")
	}

	uploadWait, err := time.ParseDuration(cfg.UploadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram upload timeout: %w", err)
	}

	return &Channel{
		cfg:        cfg,
		httpClient: &http.Client{},
		uploadWait: uploadWait,
	}, nil
}

// Ceiling returns the per-document size limit for the bot account
func (c *Channel) Ceiling() int64 {
	return c.cfg.SizeCeiling
}

// apiURL builds a Bot API method URL
func (c *Channel) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.BotToken, method)
}

// apiResponse is the Bot API envelope
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
		Document  struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	} `json:"result"`
}

// Send streams the artifact as a document upload. The multipart body is
// written through a pipe so the artifact is never held in memory.
func (c *Channel) Send(ctx context.Context, r io.Reader, sizeHint int64, meta delivery.Metadata) (delivery.Receipt, error) {
	if err := delivery.CheckCeiling(sizeHint, c.Ceiling()); err != nil {
		return delivery.Receipt{}, fmt.Errorf("%w: %s is %s, ceiling is %s",
			err, meta.Filename, humanize.IBytes(uint64(sizeHint)), humanize.IBytes(uint64(c.Ceiling())))
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadWait)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var err error
		defer func() { pw.CloseWithError(err) }()

		if err = mw.WriteField("chat_id", c.cfg.ChatID); err != nil {
			return
		}
		if err = mw.WriteField("caption", c.caption(meta, sizeHint)); err != nil {
			return
		}
		if err = mw.WriteField("parse_mode", "HTML"); err != nil {
			return
		}

		var part io.Writer
		part, err = mw.CreateFormFile("document", meta.Filename)
		if err != nil {
			return
		}
		if _, err = io.Copy(part, r); err != nil {
			return
		}
		err = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("sendDocument"), pr)
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return delivery.Receipt{}, fmt.Errorf("%w after %s: %v", delivery.ErrTimeout, c.uploadWait, err)
		}
		return delivery.Receipt{}, fmt.Errorf("%w: %v", delivery.ErrTimeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return delivery.Receipt{}, fmt.Errorf("%w: reading upload response: %v", delivery.ErrTimeout, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return delivery.Receipt{}, fmt.Errorf("%w: unparseable Bot API response: %.200s", delivery.ErrRejected, string(body))
	}

	if !parsed.OK {
		return delivery.Receipt{}, classifyAPIError(resp.StatusCode, parsed.Description)
	}

	return delivery.Receipt{
		Channel:   "telegram",
		Ref:       parsed.Result.Document.FileID,
		Delivered: time.Now(),
	}, nil
}

// classifyAPIError maps Bot API failures onto the delivery taxonomy
func classifyAPIError(status int, description string) error {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", delivery.ErrSizeLimit, description)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", delivery.ErrRejected, description)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(description), "chat not found"):
		return fmt.Errorf("%w: %s", delivery.ErrRejected, description)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", delivery.ErrTimeout, description)
	default:
		return fmt.Errorf("%w: Bot API %d: %s", delivery.ErrRejected, status, description)
	}
}

// caption formats the document caption the way operators see backups
func (c *Channel) caption(meta delivery.Metadata, sizeHint int64) string {
	var b strings.Builder
	b.WriteString("🗄️ <b>Database Backup</b>\n")
	fmt.Fprintf(&b, "🖥 Panel: %s\n", meta.PanelName)
	fmt.Fprintf(&b, "📊 DB: %s\n", meta.Database)
	fmt.Fprintf(&b, "📁 File: %s\n", meta.Filename)
	if sizeHint > 0 {
		fmt.Fprintf(&b, "📏 Size: %s\n", humanize.IBytes(uint64(sizeHint)))
	}
	fmt.Fprintf(&b, "⏰ Created: %s", meta.CreatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Notify sends a status message to the chat. Errors are returned for the
// caller to log; they never fail a job.
func (c *Channel) Notify(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	form := url.Values{}
	form.Set("chat_id", c.cfg.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("sendMessage"),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil || !parsed.OK {
		log.Printf("Telegram notify rejected: %.200s", string(body))
		return fmt.Errorf("notify rejected by Bot API")
	}

	return nil
}
