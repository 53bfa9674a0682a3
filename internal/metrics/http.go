// Package metrics fetches the raw per-entity metric series that summary
// notifications are built from.
package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"digestflow/internal/domain"
)

type Source interface {
	Fetch(ctx context.Context, ownerID string) (domain.MetricsSnapshot, error)
}

type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch GETs {base}/owners/{ownerID}/metrics. Every failure wraps
// domain.ErrUpstreamUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context, ownerID string) (domain.MetricsSnapshot, error) {
	if s.baseURL == "" {
		return domain.MetricsSnapshot{}, errors.Wrap(domain.ErrUpstreamUnavailable, "metrics source not configured")
	}
	u := s.baseURL + "/owners/" + url.PathEscape(ownerID) + "/metrics"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.MetricsSnapshot{}, errors.Wrap(err, "failed to create metrics request")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.MetricsSnapshot{}, errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.MetricsSnapshot{}, errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
	}
	if resp.StatusCode >= 400 {
		return domain.MetricsSnapshot{}, errors.Wrapf(domain.ErrUpstreamUnavailable, "metrics HTTP %d: %s", resp.StatusCode, string(body))
	}

	var snap domain.MetricsSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.MetricsSnapshot{}, errors.Wrapf(domain.ErrUpstreamUnavailable, "decode metrics: %v", err)
	}
	return snap, nil
}
