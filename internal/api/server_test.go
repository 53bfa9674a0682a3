package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"digestflow/internal/delivery"
	"digestflow/internal/dispatcher"
	"digestflow/internal/domain"
	"digestflow/internal/queue"
)

type nopSender struct{}

func (nopSender) Send(context.Context, delivery.Message) error { return nil }

func newTestServer(t *testing.T) (http.Handler, queue.Repository, *dispatcher.Dispatcher) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "api.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, queue.EnsureSchema(db))

	repo := queue.NewSQLiteRepo(db)
	d := dispatcher.New(dispatcher.Options{
		Repo:   repo,
		Sender: nopSender{},
		Now:    func() time.Time { return time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC) },
	})
	return NewServer(repo, d), repo, d
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := do(h, "GET", "/health", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEnqueueAndGetJob(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(h, "POST", "/api/jobs", `{"recipients":["a@example.com"],"subject":"Hi","body":"hello","send_at":"2026-11-01T09:00:00Z"}`)
	require.Equal(t, 201, rec.Code, rec.Body.String())

	var job domain.ScheduledJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Regexp(t, `^job_`, job.ID)
	assert.Equal(t, domain.ModeManual, job.Mode)
	assert.True(t, job.SendAt.Equal(time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)))

	rec = do(h, "GET", "/api/jobs/"+job.ID, "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subject":"Hi"`)

	rec = do(h, "GET", "/api/jobs/job_missing", "")
	assert.Equal(t, 404, rec.Code)
}

func TestEnqueueRejectsInvalidJobs(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(h, "POST", "/api/jobs", `{"recipients":[],"subject":"Hi","body":"x"}`)
	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipient")

	rec = do(h, "POST", "/api/jobs", `{"recipients":["a@example.com"],"subject":"Hi","mode":"autoSummary"}`)
	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner_id")

	rec = do(h, "POST", "/api/jobs", `{not json`)
	assert.Equal(t, 400, rec.Code)
}

func TestOwnerSchedule(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(h, "GET", "/api/owners/o1/schedule", "")
	assert.Equal(t, 404, rec.Code)

	rec = do(h, "PUT", "/api/owners/o1/schedule", `{"frequency":"weekly","day_of_week":9}`)
	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "day_of_week")

	rec = do(h, "PUT", "/api/owners/o1/schedule", `{"frequency":"weekly","day_of_week":1}`)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"time_of_day":"08:00"`)

	rec = do(h, "GET", "/api/owners/o1/schedule/next", "")
	require.Equal(t, 200, rec.Code)
	var next nextResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	require.NotNil(t, next.NextSendAt)
	assert.True(t, next.NextSendAt.Equal(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)))
	assert.False(t, next.Exhausted)

	rec = do(h, "PUT", "/api/owners/o1/schedule", `{"frequency":"monthly","day_of_month":1,"stop_date":"2026-01-31"}`)
	require.Equal(t, 200, rec.Code)
	rec = do(h, "GET", "/api/owners/o1/schedule/next", "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exhausted":true`)

	rec = do(h, "DELETE", "/api/owners/o1/schedule", "")
	assert.Equal(t, 204, rec.Code)
	rec = do(h, "GET", "/api/owners/o1/schedule/next", "")
	assert.Equal(t, 404, rec.Code)
}

func TestOwnerJobs(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := do(h, "POST", "/api/jobs", `{"owner_id":"o1","recipients":["a@example.com"],"subject":"Hi","body":"x"}`)
	require.Equal(t, 201, rec.Code)
	var job domain.ScheduledJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = do(h, "GET", "/api/owners/o1/jobs", "")
	require.Equal(t, 200, rec.Code)
	var summaries []domain.JobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, job.ID, summaries[0].ID)

	rec = do(h, "GET", "/api/owners/o2/jobs", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(h, "DELETE", "/api/owners/o2/jobs/"+job.ID, "")
	assert.Equal(t, 404, rec.Code)
	rec = do(h, "DELETE", "/api/owners/o1/jobs/"+job.ID, "")
	assert.Equal(t, 204, rec.Code)
}

func TestDispatchAndMetrics(t *testing.T) {
	h, repo, d := newTestServer(t)

	rec := do(h, "POST", "/api/jobs", `{"recipients":["a@example.com"],"subject":"Hi","body":"x","send_at":"2020-01-01T00:00:00Z"}`)
	require.Equal(t, 201, rec.Code)
	var job domain.ScheduledJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = do(h, "POST", "/api/dispatch", "")
	require.Equal(t, 202, rec.Code)
	assert.JSONEq(t, `{"launched":1}`, rec.Body.String())
	d.Wait()

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)

	rec = do(h, "GET", "/metrics", "")
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "digestflow_delivered_total 1\n")
	assert.Contains(t, body, "digestflow_claims_total 1\n")
	assert.Contains(t, body, `digestflow_jobs{state="sent"} 1`)
}
