package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/utrack/hypelens/internal/model"
	"go.uber.org/zap"
)

// ClipsPath is the REST resource receiving clip metadata.
const ClipsPath = "/api/clips"

// RESTClient posts clip metadata to the hub's HTTP API.
type RESTClient struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	observer   Observer
}

// NewRESTClient derives the clips URL from the hub endpoint.
func NewRESTClient(endpoint string, timeout time.Duration, logger *zap.Logger, observer Observer) *RESTClient {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTClient{
		url:        HTTPBase(endpoint) + ClipsPath,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		observer:   observer,
	}
}

// URL returns the fallback target.
func (c *RESTClient) URL() string { return c.url }

// PostClip sends metadata and reports non-2xx replies as errors.
func (c *RESTClient) PostClip(ctx context.Context, meta model.ClipMetadata) error {
	err := c.post(ctx, meta)
	if err != nil {
		c.logger.Warn("REST metadata send failed", zap.String("url", c.url), zap.Error(err))
	} else {
		c.logger.Info("sent clip metadata via REST", zap.String("file", meta.FileName))
	}
	if c.observer != nil {
		c.observer.ObserveDelivery(Delivery{
			Channel: "rest",
			Message: model.MessageClipUploaded,
			Body:    meta,
			Err:     err,
			At:      time.Now().UTC(),
		})
	}
	return err
}

func (c *RESTClient) post(ctx context.Context, meta model.ClipMetadata) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal clip metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", meta.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
