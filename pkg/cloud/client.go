// Package cloud talks to the remote image host: uploads with a public preset
// and fetches background-removal transformations of uploaded assets.
package cloud

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cutout-cli/cutout/pkg/errors"
	"github.com/cutout-cli/cutout/pkg/security"
)

// Host defaults.
const (
	DefaultAPIBaseURL      = "https://api.cloudinary.com"
	DefaultDeliveryBaseURL = "https://res.cloudinary.com"

	DefaultUploadTimeout    = 150 * time.Second
	DefaultTransferTimeout  = 120 * time.Second
	DefaultConnectTimeout   = 30 * time.Second
	DefaultTransformTimeout = 120 * time.Second
)

// Config holds the host account and network settings.
type Config struct {
	CloudName    string
	UploadPreset string

	APIBaseURL      string
	DeliveryBaseURL string

	// UploadTimeout bounds the whole upload call; TransferTimeout bounds the
	// HTTP exchange inside it.
	UploadTimeout    time.Duration
	TransferTimeout  time.Duration
	ConnectTimeout   time.Duration
	TransformTimeout time.Duration
}

// Client uploads images and requests transformations.
type Client struct {
	cfg    Config
	upload *http.Client
	fetch  *http.Client
	diag   *slog.Logger
}

// NewClient builds a client. diag receives upload diagnostics; nil discards
// them.
func NewClient(cfg Config, diag *slog.Logger) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.DeliveryBaseURL == "" {
		cfg.DeliveryBaseURL = DefaultDeliveryBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.DeliveryBaseURL = strings.TrimRight(cfg.DeliveryBaseURL, "/")
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = DefaultTransformTimeout
	}
	if diag == nil {
		diag = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg:    cfg,
		upload: &http.Client{Transport: transport, Timeout: cfg.TransferTimeout},
		fetch:  &http.Client{Transport: transport},
		diag:   diag,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// credentials returns the sanitized cloud name and upload preset.
func (c *Client) credentials() (string, string, error) {
	if strings.TrimSpace(c.cfg.CloudName) == "" {
		return "", "", errors.New(errors.KindConfiguration, "Cloud name is not configured. Set cloud-name in the config file or CUTOUT_CLOUD_NAME.")
	}
	if strings.TrimSpace(c.cfg.UploadPreset) == "" {
		return "", "", errors.New(errors.KindConfiguration, "Upload preset is not configured. Set upload-preset in the config file or CUTOUT_UPLOAD_PRESET.")
	}

	cloudName := security.SanitizeCloudName(c.cfg.CloudName)
	preset := security.SanitizeUploadPreset(c.cfg.UploadPreset)

	if cloudName == "" {
		return "", "", errors.New(errors.KindConfiguration, "Invalid cloud name - contains only invalid characters")
	}
	if preset == "" {
		return "", "", errors.New(errors.KindConfiguration, "Invalid upload preset - contains only invalid characters")
	}
	if !security.ValidIdentifier(cloudName, security.CloudNameFormat) {
		return "", "", errors.New(errors.KindConfiguration, "Cloud name can only contain letters, numbers, hyphens, and underscores")
	}
	return cloudName, preset, nil
}
