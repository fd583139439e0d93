// Package bt implements the panel client against the aaPanel/BT-panel
// signed HTTP API.
package bt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// Client talks to a single BT panel instance
type Client struct {
	conn       panel.Connection
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a panel client for the connection. The timeout bounds
// individual API calls; downloads use the caller's context instead.
func NewClient(conn panel.Connection, timeout time.Duration) *Client {
	return &Client{
		conn: conn,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Connection returns the connection snapshot this client was built from
func (c *Client) Connection() panel.Connection {
	return c.conn
}

// sign produces the panel's request authentication fields:
// request_token = md5(request_time + md5(api_key))
func (c *Client) sign() url.Values {
	nowUnix := c.now().Unix()
	keySum := md5.Sum([]byte(c.conn.APIKey))
	tokenSrc := strconv.FormatInt(nowUnix, 10) + hex.EncodeToString(keySum[:])
	token := md5.Sum([]byte(tokenSrc))

	v := url.Values{}
	v.Set("request_time", strconv.FormatInt(nowUnix, 10))
	v.Set("request_token", hex.EncodeToString(token[:]))
	return v
}

// envelope is the panel's failure response shape
type envelope struct {
	Status *bool  `json:"status"`
	Msg    string `json:"msg"`
}

// post sends a signed form POST and returns the raw response body
func (c *Client) post(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	form := c.sign()
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.conn.URL, "/")+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build panel request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, panel.ConnectivityError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, panel.ConnectivityError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d from %s", panel.ErrAuth, resp.StatusCode, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, panel.ProtocolError(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint), string(body))
	}

	// The panel reports failures as {status:false, msg:...} with HTTP 200
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Status != nil && !*env.Status {
		if isAuthMessage(env.Msg) {
			return nil, fmt.Errorf("%w: %s", panel.ErrAuth, env.Msg)
		}
		return nil, &panelFailure{endpoint: endpoint, msg: env.Msg}
	}

	return body, nil
}

// panelFailure is a status:false response that is not an auth rejection.
// Callers decide whether it means a failed backup or a protocol error.
type panelFailure struct {
	endpoint string
	msg      string
}

func (e *panelFailure) Error() string {
	return fmt.Sprintf("panel rejected %s: %s", e.endpoint, e.msg)
}

// isAuthMessage matches the panel's signature/IP rejection messages
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{"token", "signature", "secret", "ip", "白名单", "密钥", "校验失败"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// ListDatabases enumerates databases managed by the panel
func (c *Client) ListDatabases(ctx context.Context) ([]panel.Database, error) {
	body, err := c.post(ctx, "/data?action=getData", url.Values{
		"table": {"databases"},
		"limit": {"100"},
		"tojs":  {"database.get_list"},
	})
	if err != nil {
		var pf *panelFailure
		if errors.As(err, &pf) {
			return nil, panel.ProtocolError("database list refused", pf.msg)
		}
		return nil, err
	}

	var parsed struct {
		Data []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, panel.ProtocolError("unparseable database list", string(body))
	}

	databases := make([]panel.Database, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		databases = append(databases, panel.Database{ID: d.ID, Name: d.Name})
	}
	return databases, nil
}

// TriggerBackup asks the panel to produce a fresh backup of the database.
// The panel responds only after the backup completes.
func (c *Client) TriggerBackup(ctx context.Context, db panel.Database) error {
	_, err := c.post(ctx, "/database?action=ToBackup", url.Values{
		"id": {strconv.Itoa(db.ID)},
	})
	if err != nil {
		var pf *panelFailure
		if errors.As(err, &pf) {
			return fmt.Errorf("%w: %s", panel.ErrBackupFailed, pf.msg)
		}
		return err
	}
	return nil
}

// artifactEntry is one backup row from the panel
type artifactEntry struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Filename string          `json:"filename"`
	Size     int64           `json:"size"`
	AddTime  json.RawMessage `json:"addtime"`
}

// parseAddTime handles the two timestamp encodings panel versions produce:
// "2024-01-02 15:04:05" strings and unix integers
func parseAddTime(raw json.RawMessage) time.Time {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", asString, time.Local); err == nil {
			return t
		}
		if n, err := strconv.ParseInt(asString, 10, 64); err == nil {
			return time.Unix(n, 0)
		}
		return time.Time{}
	}
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return time.Unix(asInt, 0)
	}
	return time.Time{}
}

// ListArtifacts returns the backup files the panel holds for the database,
// newest first. It tries the current QueryBackups API and falls back to the
// legacy data table for older panels.
func (c *Client) ListArtifacts(ctx context.Context, db panel.Database) ([]panel.Artifact, error) {
	body, err := c.post(ctx, "/database?action=QueryBackups", url.Values{
		"id":    {strconv.Itoa(db.ID)},
		"p":     {"1"},
		"limit": {"20"},
		"type":  {"0"},
	})
	if err != nil {
		var pf *panelFailure
		if !errors.As(err, &pf) {
			return nil, err
		}
		// Legacy panels only expose the backup table
		body, err = c.post(ctx, "/data?action=getData", url.Values{
			"table": {"backup"},
			"limit": {"20"},
			"type":  {"1"},
			"pid":   {strconv.Itoa(db.ID)},
		})
		if err != nil {
			return nil, err
		}
	}

	var parsed struct {
		Data []artifactEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, panel.ProtocolError("unparseable backup list", string(body))
	}

	artifacts := make([]panel.Artifact, 0, len(parsed.Data))
	for _, e := range parsed.Data {
		name := e.Name
		path := e.Filename
		if name == "" && path != "" {
			if idx := strings.LastIndex(path, "/"); idx >= 0 {
				name = path[idx+1:]
			} else {
				name = path
			}
		}
		artifacts = append(artifacts, panel.Artifact{
			ID:        e.ID,
			Filename:  name,
			Path:      path,
			Size:      e.Size,
			CreatedAt: parseAddTime(e.AddTime),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// DownloadArtifact opens a streamed read of the backup file. The signed
// fields travel as query parameters because the download endpoint serves the
// raw file body.
func (c *Client) DownloadArtifact(ctx context.Context, ref panel.Artifact) (io.ReadCloser, int64, error) {
	q := c.sign()
	q.Set("filename", ref.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.conn.URL, "/")+"/download?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build download request")
	}

	// Bypass the short API timeout; the caller's context bounds the download.
	dlClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := dlClient.Do(req)
	if err != nil {
		return nil, 0, panel.ConnectivityError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: HTTP %d downloading %s", panel.ErrAuth, resp.StatusCode, ref.Filename)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, 0, panel.ProtocolError(fmt.Sprintf("HTTP %d downloading %s", resp.StatusCode, ref.Filename), string(body))
	}

	size := resp.ContentLength
	if size < 0 {
		size = ref.Size
	}
	return resp.Body, size, nil
}

// DeleteArtifact removes the remote backup file
func (c *Client) DeleteArtifact(ctx context.Context, ref panel.Artifact) error {
	_, err := c.post(ctx, "/database?action=DelBackup", url.Values{
		"id": {strconv.Itoa(ref.ID)},
	})
	var pf *panelFailure
	if errors.As(err, &pf) {
		return panel.ProtocolError("delete refused", pf.msg)
	}
	return err
}

// EmptyRecycleBin purges the panel's recycle bin so deleted backup files
// stop consuming remote disk
func (c *Client) EmptyRecycleBin(ctx context.Context) error {
	_, err := c.post(ctx, "/files?action=Empty_Recycle_bin", nil)
	var pf *panelFailure
	if errors.As(err, &pf) {
		return panel.ProtocolError("recycle bin purge refused", pf.msg)
	}
	return err
}

// Ping verifies connectivity and credentials
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.post(ctx, "/system?action=GetSystemTotal", nil)
	var pf *panelFailure
	if errors.As(err, &pf) {
		return panel.ProtocolError("system query refused", pf.msg)
	}
	return err
}
