package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/delivery"
)

func testConfig(apiBase string) config.TelegramConfig {
	return config.TelegramConfig{
		BotToken:      "123:abc",
		ChatID:        "-100200300",
		SizeCeiling:   50 * 1024 * 1024,
		UploadTimeout: "30s",
		APIBase:       apiBase,
	}
}

func testMetadata() delivery.Metadata {
	return delivery.Metadata{
		PanelName: "panel-a",
		Database:  "shop",
		Filename:  "shop_20250830_031500.sql.gz",
		CreatedAt: time.Date(2025, 8, 30, 3, 15, 0, 0, time.UTC),
	}
}

func TestNewChannelValidation(t *testing.T) {
	_, err := NewChannel(config.TelegramConfig{ChatID: "1", UploadTimeout: "30s"})
	assert.Error(t, err, "missing bot token")

	_, err = NewChannel(config.TelegramConfig{BotToken: "t", ChatID: "1", UploadTimeout: "soon"})
	assert.Error(t, err, "bad upload timeout")

	_, err = NewChannel(testConfig("https://api.telegram.org"))
	assert.NoError(t, err)
}

func TestSendUploadsDocument(t *testing.T) {
	var gotPath, gotChatID, gotFilename, gotCaption string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		gotChatID = r.FormValue("chat_id")
		gotCaption = r.FormValue("caption")
		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotBody, _ = io.ReadAll(file)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 99,
				"document":   map[string]any{"file_id": "BQAC-file-id"},
			},
		})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	payload := "-- dump contents --"
	receipt, err := ch.Send(context.Background(), strings.NewReader(payload), int64(len(payload)), testMetadata())
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendDocument", gotPath)
	assert.Equal(t, "-100200300", gotChatID)
	assert.Equal(t, "shop_20250830_031500.sql.gz", gotFilename)
	assert.Equal(t, payload, string(gotBody))
	assert.Contains(t, gotCaption, "panel-a")
	assert.Contains(t, gotCaption, "shop")

	assert.Equal(t, "telegram", receipt.Channel)
	assert.Equal(t, "BQAC-file-id", receipt.Ref)
	assert.False(t, receipt.Delivered.IsZero())
}

func TestSendCeilingCheckedBeforeUpload(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.SizeCeiling = 1024

	ch, err := NewChannel(cfg)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), strings.NewReader("x"), 4096, testMetadata())
	require.ErrorIs(t, err, delivery.ErrSizeLimit)
	assert.Equal(t, int64(0), hits.Load(), "oversized uploads must never reach the network")
}

func TestSendEntityTooLargeMapsToSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Request Entity Too Large"})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), strings.NewReader("x"), 1, testMetadata())
	assert.ErrorIs(t, err, delivery.ErrSizeLimit)
}

func TestSendChatNotFoundMapsToRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Bad Request: chat not found"})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), strings.NewReader("x"), 1, testMetadata())
	require.ErrorIs(t, err, delivery.ErrRejected)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendUnauthorizedMapsToRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), strings.NewReader("x"), 1, testMetadata())
	assert.ErrorIs(t, err, delivery.ErrRejected)
}

func TestSendTimeoutMapsToTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.UploadTimeout = "50ms"

	ch, err := NewChannel(cfg)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), strings.NewReader("x"), 1, testMetadata())
	assert.ErrorIs(t, err, delivery.ErrTimeout)
}

func TestNotify(t *testing.T) {
	var gotPath, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotText = r.PostFormValue("text")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	require.NoError(t, ch.Notify(context.Background(), "backup delivered"))
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "backup delivered", gotText)
}

func TestNotifyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	}))
	defer server.Close()

	ch, err := NewChannel(testConfig(server.URL))
	require.NoError(t, err)

	assert.Error(t, ch.Notify(context.Background(), "backup delivered"))
}
