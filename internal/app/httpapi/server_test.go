package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/auth"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
	"github.com/oddurs/prime-coordinator/internal/app/services/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/services/registry"
	"github.com/oddurs/prime-coordinator/internal/app/services/release"
	"github.com/oddurs/prime-coordinator/internal/app/services/scheduler"
	"github.com/oddurs/prime-coordinator/internal/app/services/verification"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
)

func newTestServer() (*Server, *memory.Store) {
	store := memory.New()
	sched := scheduler.New(store, nil, nil)
	reg := registry.New(store, time.Minute, nil)
	verif := verification.New(store, nil, nil)
	cost := costmodel.New(store, 20, nil)
	rel := release.New(store, "stable", nil)
	return New(sched, reg, verif, cost, rel, nil, Config{
		MaxRequestBodyBytes: 1 << 20,
		RateLimitPerSecond:  1000,
		RateLimitBurst:      1000,
	}), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWorkerRegisterAndHeartbeat(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/worker/register", registerRequest{
		WorkerID: "w1", Hostname: "host-1", Cores: 4, SearchType: "mersenne",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/worker/heartbeat", heartbeatRequest{
		WorkerID: "w1", Tested: 10, Found: 0, Current: "n=123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp heartbeatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
}

func TestWorkerHeartbeatUnknownWorker(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/worker/heartbeat", heartbeatRequest{
		WorkerID: "ghost", Tested: 1,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown worker, got %d", rec.Code)
	}
	var resp errResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OK || resp.Error != "unknown worker, re-register" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestWorkReturnsNoContentWhenEmpty(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()
	ctx := context.Background()

	created, err := s.scheduler.CreateJob(ctx, job.Job{
		Form: "mersenne", RangeStart: 0, RangeEnd: 5, BlockSize: 5,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, ok, err := s.scheduler.ClaimBlock(ctx, created.ID, "w0", 0); err != nil || !ok {
		t.Fatalf("expected the single block to be claimable, ok=%v err=%v", ok, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/work?job_id="+created.ID+"&worker_id=w1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 once the only block is claimed, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWorkClaimsBlock(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	created, err := s.scheduler.CreateJob(context.Background(), job.Job{
		Form: "mersenne", RangeStart: 0, RangeEnd: 10, BlockSize: 5,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/work?job_id="+created.ID+"&worker_id=w1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with an available block, got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp blockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != created.ID {
		t.Fatalf("expected job id %s, got %s", created.ID, resp.JobID)
	}
}

func TestReleaseResolveUnknownChannel(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/release/resolve?channel=nightly&worker_id=w1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unconfigured channel, got %d", rec.Code)
	}
}

func TestWorkerPrimeReport(t *testing.T) {
	s, _ := newTestServer()
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/worker/prime", primeReportRequest{
		Form: "mersenne", Expression: "2^127-1", Digits: 39, ProofMethod: "lucas-lehmer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s, _ := newTestServer()
	s.maxBodyBytes = 8
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/worker/deregister", deregisterRequest{WorkerID: "worker-with-a-long-id"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	store := memory.New()
	sched := scheduler.New(store, nil, nil)
	reg := registry.New(store, time.Minute, nil)
	verif := verification.New(store, nil, nil)
	cost := costmodel.New(store, 20, nil)
	rel := release.New(store, "stable", nil)
	tokens, err := auth.NewTokenSource("shared-secret")
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}
	s := New(sched, reg, verif, cost, rel, nil, Config{
		MaxRequestBodyBytes: 1 << 20,
		RateLimitPerSecond:  1000,
		RateLimitBurst:      1000,
		Tokens:              tokens,
	})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/worker/register", registerRequest{WorkerID: "w1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d body=%s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/worker/register", bytes.NewReader(mustJSON(t, registerRequest{WorkerID: "w1"})))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Id", "w1")
	req.Header.Set("X-Worker-Token", tokens.TokenFor("w1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
