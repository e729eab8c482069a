package cloud

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/security"
)

// maxResponseSize caps how much of an upload reply is read.
const maxResponseSize = 10 * 1024 * 1024

var specialPathChars = regexp.MustCompile(`[^a-zA-Z0-9_\-./]`)

type uploadResponse struct {
	PublicID string          `json:"public_id"`
	Error    json.RawMessage `json:"error"`
}

// Upload sends the file at path to the host and returns the asset identifier
// of the stored image.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	cloudName, preset, err := c.credentials()
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Newf(errors.KindUpload, "File not found: %s", path)
	}
	size := info.Size()
	endpoint := fmt.Sprintf("%s/v1_1/%s/image/upload", c.cfg.APIBaseURL, cloudName)

	escaped := security.EscapeDoubleQuoted(path)
	c.diag.Info("upload_start",
		"stage", "upload",
		"file", filepath.Base(path),
		"path", path,
		"size_bytes", size,
		"size_kb", fmt.Sprintf("%.2f", float64(size)/1024),
		"ext", strings.ToLower(filepath.Ext(path)),
		"cloud_name", cloudName,
		"upload_preset", preset,
		"path_has_spaces", strings.Contains(path, " "),
		"path_has_special_chars", specialPathChars.MatchString(path),
		"escaped_path_length", len(escaped),
		"path_length", len(path),
	)
	c.diag.Debug("upload_equivalent_command",
		"stage", "upload",
		"command", fmt.Sprintf(`curl -s -X POST "%s" -F "file=@[FILE_PATH]" -F "upload_preset=%s" --max-time %d --connect-timeout %d --show-error`,
			endpoint, preset, int(c.cfg.TransferTimeout.Seconds()), int(c.cfg.ConnectTimeout.Seconds())),
	)

	uploadCtx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	assetID, err := c.post(uploadCtx, endpoint, path, preset)
	elapsed := time.Since(start)

	if err != nil {
		c.diag.Error("upload_failed",
			"stage", "upload",
			"elapsed", fmt.Sprintf("%.2fs", elapsed.Seconds()),
			"error", err.Error(),
		)
		return "", c.classifyUploadError(uploadCtx, err, elapsed, size)
	}

	c.diag.Info("upload_complete",
		"stage", "upload",
		"asset_id", assetID,
		"elapsed", fmt.Sprintf("%.2fs", elapsed.Seconds()),
	)
	return assetID, nil
}

// post streams a multipart form to endpoint and parses the reply.
func (c *Client) post(ctx context.Context, endpoint, path, preset string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("upload_preset", preset); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.upload.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}

	c.diag.Debug("upload_response",
		"stage", "upload",
		"status", resp.StatusCode,
		"length", len(body),
		"preview", preview(string(body), 200),
	)

	return c.parseUploadResponse(resp.StatusCode, body)
}

// parseUploadResponse extracts the asset identifier from a host reply.
func (c *Client) parseUploadResponse(status int, body []byte) (string, error) {
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return "", errors.New(errors.KindUpload, "Empty response from image host")
	}

	var data uploadResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.diag.Debug("upload_response_unparseable", "stage", "upload", "body", text)
		if status >= http.StatusBadRequest {
			return "", errors.Newf(errors.KindUpload, "Image host error (HTTP %d): %s", status, preview(text, 200))
		}
		return "", errors.Newf(errors.KindUpload, "Invalid JSON response from image host: %s", preview(text, 200))
	}

	if len(data.Error) > 0 && string(data.Error) != "null" {
		c.diag.Debug("upload_host_error", "stage", "upload", "error", string(data.Error))
		return "", errors.Newf(errors.KindUpload, "Image host error (HTTP %d): %s", status, hostErrorMessage(data.Error))
	}

	if data.PublicID == "" {
		c.diag.Debug("upload_missing_asset_id", "stage", "upload", "body", text)
		return "", errors.New(errors.KindUpload, "Upload succeeded but no asset identifier returned")
	}
	return data.PublicID, nil
}

// hostErrorMessage returns error.message, or the raw error JSON.
func hostErrorMessage(raw json.RawMessage) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return string(raw)
}

// classifyUploadError turns a transport or reply failure into the message
// shown to the user.
func (c *Client) classifyUploadError(uploadCtx context.Context, err error, elapsed time.Duration, size int64) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	sizeKB := float64(size) / 1024

	if stderrors.Is(err, fs.ErrNotExist) || strings.Contains(lower, "no such file") {
		return errors.New(errors.KindUpload, "File not found or cannot be accessed")
	}

	if stderrors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
		return errors.Newf(errors.KindUpload, "Upload timeout after %.0fs - overall upload deadline reached", elapsed.Seconds()).
			WithContext("cause", msg)
	}
	var netErr net.Error
	if (stderrors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(lower, "timeout") {
		return errors.Newf(errors.KindUpload, "Upload timeout after %.0fs - transfer timeout reached (file: %.1fKB)", elapsed.Seconds(), sizeKB).
			WithContext("cause", msg)
	}

	if strings.Contains(msg, "401") || strings.Contains(msg, "403") {
		return errors.New(errors.KindUpload, "Authentication error: Check your cloud name and upload preset").
			WithContext("cause", msg)
	}
	if strings.Contains(msg, "404") {
		return errors.New(errors.KindUpload, "Cloud name not found. Please verify your cloud name").
			WithContext("cause", msg)
	}

	return errors.Newf(errors.KindUpload, "%s (after %.1fs, file: %.1fKB)", msg, elapsed.Seconds(), sizeKB)
}

// preview cuts s to at most n bytes without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
