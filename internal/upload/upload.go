// Package upload sends agent-produced files to the backend's blob storage.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
)

// DefaultPath is appended to the account's http origin when no upload URL
// is configured.
const DefaultPath = "/api/v1/files"

// MaxFileSize is the largest file the uploader will send.
const MaxFileSize = 50 * 1024 * 1024

// Result describes an uploaded file.
type Result struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// Uploader uploads a local file using an account's credentials.
type Uploader interface {
	Upload(ctx context.Context, path string, info conn.Info) (Result, error)
}

// HTTPUploader posts files as multipart forms.
type HTTPUploader struct {
	// URL overrides {http origin}/api/v1/files when set.
	URL    string
	Client *http.Client
}

// NewHTTPUploader creates an uploader. An empty url derives the endpoint from
// each account's host.
func NewHTTPUploader(url string) *HTTPUploader {
	return &HTTPUploader{
		URL:    url,
		Client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Upload sends the file at path and returns where the backend stored it.
func (u *HTTPUploader) Upload(ctx context.Context, path string, info conn.Info) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return Result{}, fmt.Errorf("%s is %d bytes, over the %d byte limit", path, len(data), MaxFileSize)
	}

	name := filepath.Base(path)
	mimeType := DetectMimeType(name, data)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return Result{}, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, fmt.Errorf("write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("close form: %w", err)
	}

	endpoint := u.URL
	if endpoint == "" {
		endpoint = info.HTTPBase() + DefaultPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+info.Token)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("upload %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	if res.URL == "" {
		return Result{}, fmt.Errorf("upload %s: response has no url", name)
	}
	if res.FileName == "" {
		res.FileName = name
	}
	if res.MimeType == "" {
		res.MimeType = mimeType
	}
	return res, nil
}

// DetectMimeType resolves a file's type from its extension, falling back to
// content sniffing.
func DetectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
