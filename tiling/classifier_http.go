package tiling

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultClassifierTimeout bounds a single batch request.
	DefaultClassifierTimeout = 30 * time.Second

	// maxErrorBody limits how much of an error response ends up in the error.
	maxErrorBody = 512
)

// ClassifierOption configures an HTTPClassifier.
type ClassifierOption func(*classifierConfig)

type classifierConfig struct {
	timeout time.Duration
	path    string
	client  *resty.Client
	logger  *zap.Logger
}

func defaultClassifierConfig() classifierConfig {
	return classifierConfig{
		timeout: DefaultClassifierTimeout,
		path:    DefaultClassifierPath,
	}
}

// WithClassifierTimeout sets the per-request timeout.
func WithClassifierTimeout(d time.Duration) ClassifierOption {
	return func(c *classifierConfig) {
		c.timeout = d
	}
}

// WithClassifierPath sets the endpoint path appended to the base URL.
func WithClassifierPath(path string) ClassifierOption {
	return func(c *classifierConfig) {
		c.path = path
	}
}

// WithRestyClient overrides the underlying resty client (useful for testing).
func WithRestyClient(client *resty.Client) ClassifierOption {
	return func(c *classifierConfig) {
		c.client = client
	}
}

// WithClassifierLogger attaches a logger for request tracing.
func WithClassifierLogger(l *zap.Logger) ClassifierOption {
	return func(c *classifierConfig) {
		c.logger = l
	}
}

type classifyRequest struct {
	Height int      `json:"height"`
	Width  int      `json:"width"`
	Tiles  [][]byte `json:"tiles"`
}

type classifyResponse struct {
	Labels []int `json:"labels"`
}

// HTTPClassifier sends tile batches to a remote model server as JSON.
// Each tile is the raw row-major greyscale bytes, base64 encoded.
type HTTPClassifier struct {
	client *resty.Client
	path   string
	logger *zap.Logger
}

// NewHTTPClassifier returns a classifier for the service at baseURL.
// Failed requests are not retried.
func NewHTTPClassifier(baseURL string, opts ...ClassifierOption) (*HTTPClassifier, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("classifier: base URL is empty")
	}
	cfg := defaultClassifierConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = resty.New()
	}
	client.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(cfg.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	log := orNop(cfg.logger)
	client.SetLogger(log.Sugar())

	return &HTTPClassifier{
		client: client,
		path:   cfg.path,
		logger: log,
	}, nil
}

// Classify implements Classifier
func (c *HTTPClassifier) Classify(ctx context.Context, tiles []*Image) ([]int, error) {
	if len(tiles) == 0 {
		return []int{}, nil
	}

	req := classifyRequest{
		Height: tiles[0].Height,
		Width:  tiles[0].Width,
		Tiles:  make([][]byte, len(tiles)),
	}
	for i, t := range tiles {
		if t.Height != req.Height || t.Width != req.Width {
			return nil, fmt.Errorf("classifier: tile %d is %dx%d, batch is %dx%d",
				i, t.Height, t.Width, req.Height, req.Width)
		}
		req.Tiles[i] = t.Pix
	}

	var out classifyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(c.path)
	if err != nil {
		return nil, fmt.Errorf("classifier: POST %s: %w", c.path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		body := resp.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("classifier: POST %s: status %d: %s", c.path, resp.StatusCode(), body)
	}
	if len(out.Labels) != len(tiles) {
		return nil, fmt.Errorf("%w: sent %d tiles, got %d labels", ErrBatchMismatch, len(tiles), len(out.Labels))
	}

	c.logger.Debug("batch classified",
		zap.Int("tiles", len(tiles)),
		zap.Duration("latency", resp.Time()))
	return out.Labels, nil
}
