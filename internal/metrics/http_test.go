package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digestflow/internal/domain"
)

const payload = `{
  "owner_name": "Plant A",
  "entities": [
    {"id": "e1", "name": "Line 1", "group": "Quality", "metrics": [
      {"id": "m1", "name": "Defects", "rule": "lte", "data": {
        "2025-01": {"actual": "3", "target": "5"},
        "2025-02": {"actual": "7", "target": "5"},
        "2025-03": {"target": "5"}
      }}
    ]}
  ],
  "cases": [{"id": "c1", "status": "open", "linked_metric_ids": ["m1"]}]
}`

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/owners/owner%201/metrics", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	snap, err := NewHTTPSource(srv.URL+"/", "secret", time.Second).Fetch(context.Background(), "owner 1")
	require.NoError(t, err)
	assert.Equal(t, "Plant A", snap.OwnerName)
	require.Len(t, snap.Entities, 1)
	m := snap.Entities[0].Metrics[0]
	assert.Equal(t, "lte", m.Rule)
	assert.Equal(t, domain.DataPoint{Target: "5"}, m.Data["2025-03"])
	require.Len(t, snap.Cases, 1)
	assert.Equal(t, []string{"m1"}, snap.Cases[0].LinkedMetricIDs)
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/owners/bad/metrics" {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "", time.Second)
	_, err := src.Fetch(context.Background(), "o1")
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Contains(t, err.Error(), "503")

	_, err = src.Fetch(context.Background(), "bad")
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))

	_, err = NewHTTPSource("", "", 0).Fetch(context.Background(), "o1")
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}
