package cloud

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/security"
	"github.com/dustin/go-humanize"
)

// Method is one background-removal transformation offered by the host.
type Method struct {
	Code  string
	Label string
}

// Methods lists the transformations in the order they are tried.
var Methods = []Method{
	{Code: "e_background_removal", Label: "AI Background Removal"},
	{Code: "e_bgremoval:auto", Label: "Auto-detect Background"},
	{Code: "e_make_transparent", Label: "Edge-based Removal"},
}

const (
	// MinResultSize is the smallest transformation result accepted as a real image.
	MinResultSize = 1000
)

// maxResultSize caps a downloaded transformation.
var maxResultSize int64 = 100 * 1024 * 1024

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// TransformURL builds the delivery URL for assetID rendered with m as a PNG.
func (c *Client) TransformURL(assetID string, m Method) (string, error) {
	cloudName := security.SanitizeCloudName(c.cfg.CloudName)
	if cloudName == "" {
		return "", errors.New(errors.KindConfiguration, "Cloud name is not configured")
	}

	id := security.SanitizeAssetID(assetID)
	if !security.ValidIdentifier(id, security.AssetIDFormat) {
		return "", errors.Newf(errors.KindTransform, "Invalid asset identifier: %q", assetID)
	}
	code := security.SanitizeMethodCode(m.Code)

	return fmt.Sprintf("%s/%s/image/upload/%s/f_png/%s.png", c.cfg.DeliveryBaseURL, cloudName, code, id), nil
}

// RemoveBackground fetches assetID transformed with m and checks the body is
// plausibly an image.
func (c *Client) RemoveBackground(ctx context.Context, assetID string, m Method) ([]byte, error) {
	url, err := c.TransformURL(assetID, m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransformTimeout)
	defer cancel()

	slog.Debug("transform_request", "method", m.Code, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapKind(err, errors.KindTransform, "Background removal failed")
	}

	resp, err := c.fetch.Do(req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New(errors.KindTransform, "Background removal timeout - processing took too long")
		}
		return nil, errors.WrapKind(err, errors.KindTransform, "Background removal failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusLocked {
			return nil, errors.New(errors.KindTransform, "Background removal is still processing, please try again in a few seconds")
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return nil, errors.Newf(errors.KindTransform, "Background removal method %q not available or failed", m.Label)
		}
		return nil, errors.Newf(errors.KindTransform, "Background removal failed (%d): %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultSize+1))
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New(errors.KindTransform, "Background removal timeout - processing took too long")
		}
		return nil, errors.WrapKind(err, errors.KindTransform, "Background removal failed")
	}
	if int64(len(body)) > maxResultSize {
		return nil, errors.Newf(errors.KindTransform, "Background removal result too large (over %s)", humanize.IBytes(uint64(maxResultSize)))
	}

	if err := CheckImageBody(body); err != nil {
		return nil, err
	}
	return body, nil
}

// CheckImageBody rejects empty bodies, error pages served with a success
// status and tiny non-PNG payloads.
func CheckImageBody(body []byte) error {
	if len(body) == 0 {
		return errors.New(errors.KindTransform, "Received empty response from image host")
	}

	isPNG := bytes.HasPrefix(body, pngSignature)

	head := body
	if len(head) > 100 {
		head = head[:100]
	}
	start := strings.ToLower(string(head))
	if strings.Contains(start, "<html") || strings.Contains(start, "error") || strings.Contains(start, "not found") {
		return errors.New(errors.KindTransform, "Received error page instead of image")
	}

	if !isPNG && len(body) < MinResultSize {
		return errors.Newf(errors.KindTransform, "Invalid response: %s", preview(string(body), 200))
	}
	return nil
}

// TryBackgroundRemoval tries each of Methods in order and returns the first
// result of at least MinResultSize bytes. onAttempt, when set, is called
// before each method is tried.
func (c *Client) TryBackgroundRemoval(ctx context.Context, assetID string, onAttempt func(Method)) ([]byte, Method, error) {
	var reasons []string

	for _, m := range Methods {
		if onAttempt != nil {
			onAttempt(m)
		}

		body, err := c.RemoveBackground(ctx, assetID, m)
		switch {
		case err != nil:
			slog.Warn("transform_method_failed", "method", m.Code, "error", err)
			reasons = append(reasons, fmt.Sprintf("%s: %s", m.Label, err.Error()))
		case len(body) < MinResultSize:
			slog.Warn("transform_result_too_small", "method", m.Code, "size", len(body))
			reasons = append(reasons, fmt.Sprintf("%s: Result too small (likely failed)", m.Label))
		default:
			slog.Info("transform_succeeded", "method", m.Code, "size", len(body))
			return body, m, nil
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, Method{}, errors.New(errors.KindAggregateTransform,
		"All background removal methods failed:\n"+strings.Join(reasons, "\n")).
		WithContext("attempts", reasons)
}
