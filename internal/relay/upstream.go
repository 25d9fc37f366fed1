package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/config"
	"github.com/finsight/finsight/internal/common/logger"
)

// Upstream opens progress event streams from the backend analysis service.
// Each session gets its own independent connection; there is no pooling or
// multiplexing of sessions over one upstream stream.
type Upstream struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewUpstream creates an upstream client from configuration. The HTTP client
// carries no overall timeout: streams stay open for the lifetime of the
// analysis run, bounded only by the caller's context. Only the wait for
// response headers is limited.
func NewUpstream(cfg config.UpstreamConfig, log *logger.Logger) *Upstream {
	transport := http.DefaultTransport
	if cfg.HeaderTimeout > 0 {
		transport = &http.Transport{
			ResponseHeaderTimeout: cfg.HeaderTimeoutDuration(),
		}
	}
	return &Upstream{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Transport: transport},
		logger:  log,
	}
}

// OpenStream requests the event stream for a session. The request is bound
// to ctx, so cancelling the caller's context aborts the upstream read - the
// client-facing and upstream connections share a single lifetime.
//
// A non-nil response may carry any status code; the caller decides how to
// surface non-2xx statuses.
func (u *Upstream) OpenStream(ctx context.Context, sessionID string) (*http.Response, error) {
	url := fmt.Sprintf("%s/api/progress/%s", u.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Warn("upstream stream request failed",
			zap.String("session_id", sessionID),
			zap.String("url", url),
			zap.Error(err))
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}

	u.logger.Debug("upstream stream opened",
		zap.String("session_id", sessionID),
		zap.Int("status", resp.StatusCode))
	return resp, nil
}
