// Package engine invokes the external generation engine and classifies
// its outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/inkforge/inkforge/internal/model"
)

const (
	// maxErrorBodyBytes bounds the engine error body kept for diagnostics.
	maxErrorBodyBytes = 4 << 10
	// generatePath is appended to the engine base URL.
	generatePath = "/generate"
)

// Config holds gateway settings.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// Gateway calls POST {base}/generate exactly once per Invoke.
type Gateway struct {
	endpoint         string
	timeout          time.Duration
	maxResponseBytes int64
	client           *http.Client
	logger           *slog.Logger
}

// NewGateway creates a Gateway. A nil client uses NewHTTPClient.
func NewGateway(cfg Config, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		endpoint:         strings.TrimSuffix(cfg.BaseURL, "/") + generatePath,
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
		client:           client,
		logger:           logger.With("component", "engine_gateway"),
	}
}

// Invoke forwards req to the engine and classifies the result. It never
// retries and never returns a nil outcome: transport failures (refused,
// DNS, timeout, cancellation) are upstream_unreachable, non-2xx responses
// are upstream_rejected, and a 2xx body is delivered as-is.
func (g *Gateway) Invoke(ctx context.Context, req model.GenerationRequest) model.GenerationOutcome {
	out := NewOutboundRequest(req)
	body, contentType, err := out.Encode()
	if err != nil {
		return model.Failed(model.ReasonUpstreamRejected, 0, "", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, body)
	if err != nil {
		return model.Failed(model.ReasonUpstreamUnreachable, 0, "", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", model.SVGMediaType)
	httpReq.Header.Set("User-Agent", "Inkforge-Gateway/1.0")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.Warn("engine unreachable",
			"user_id", req.UserID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return model.Failed(model.ReasonUpstreamUnreachable, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

		g.logger.Warn("engine rejected request",
			"user_id", req.UserID,
			"http_status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return model.Failed(model.ReasonUpstreamRejected, resp.StatusCode, string(errBody),
			fmt.Errorf("engine returned HTTP %d", resp.StatusCode))
	}

	payload, err := readCapped(resp.Body, g.maxResponseBytes)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return model.Failed(model.ReasonUpstreamRejected, resp.StatusCode, "", err)
		}
		// Deadline or connection loss while streaming the body.
		return model.Failed(model.ReasonUpstreamUnreachable, resp.StatusCode, "", fmt.Errorf("read engine response: %w", err))
	}

	g.logger.Debug("engine delivered",
		"user_id", req.UserID,
		"bytes", len(payload),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return model.Delivered(payload, mediaTypeOf(resp.Header.Get("Content-Type")))
}

// readCapped reads r fully, failing with ErrResponseTooLarge past limit bytes.
// A non-positive limit disables the cap.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// mediaTypeOf returns the bare media type of a Content-Type header,
// defaulting to SVG.
func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return model.SVGMediaType
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" {
		return model.SVGMediaType
	}
	return mt
}
