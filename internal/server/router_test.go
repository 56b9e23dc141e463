package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/slotexec/internal/dynexec"
	"github.com/loykin/slotexec/internal/executor"
	"github.com/loykin/slotexec/internal/slot"
	"github.com/loykin/slotexec/internal/slot/memory"
)

var errNoSuchTable = errors.New(`no such table: missing`)

// testEngine answers "SELECT 1", fails "SELECT * FROM missing" and blocks
// "SLEEP" until the context ends.
func testEngine() executor.Engine {
	return executor.EngineFunc(func(ctx context.Context, s string) (*executor.Result, error) {
		switch s {
		case "SELECT * FROM missing":
			return nil, errNoSuchTable
		case "SLEEP":
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &executor.Result{Columns: []string{"1"}, Rows: [][]any{{1}}}, nil
	})
}

func setupRouter(t *testing.T, base string, table slot.Table, opts ...Option) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	fac, err := dynexec.New(table, testEngine(), dynexec.WithLogger(quiet), dynexec.WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("facility: %v", err)
	}
	t.Cleanup(func() { _ = fac.Close() })
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return NewRouter(fac, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errorResp {
	t.Helper()
	var e errorResp
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestExecuteOK(t *testing.T) {
	h := setupRouter(t, "/api", memory.New(2))
	rec := doReq(t, h, http.MethodPost, "/api/execute", executeReq{Statement: "SELECT 1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res executor.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Columns) != 1 || len(res.Rows) != 1 || res.Rows[0][0] != float64(1) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteUsageErrors(t *testing.T) {
	h := setupRouter(t, "", memory.New(1))
	rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "  "})
	if rec.Code != http.StatusBadRequest || decodeErr(t, rec).Code != codeUsage {
		t.Fatalf("expected 400 usage, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestExecuteStatementError(t *testing.T) {
	h := setupRouter(t, "", memory.New(1))
	rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SELECT * FROM missing"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	e := decodeErr(t, rec)
	if e.Error != errNoSuchTable.Error() || e.Code != codeStatement {
		t.Fatalf("statement error should pass through unchanged: %+v", e)
	}
}

func TestExecuteExhausted(t *testing.T) {
	table := memory.New(1)
	h := setupRouter(t, "/api", table)
	// hold the only slot
	if _, err := table.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	rec := doReq(t, h, http.MethodPost, "/api/execute", executeReq{Statement: "SELECT 1"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if e := decodeErr(t, rec); e.Code != dynexec.ExhaustedCode {
		t.Fatalf("expected code %s, got %+v", dynexec.ExhaustedCode, e)
	}
}

func TestExecuteTimeout(t *testing.T) {
	h := setupRouter(t, "", memory.New(1))
	rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SLEEP"})
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	// slot was released
	rec = doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SELECT 1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after timeout, got %d", rec.Code)
	}
}

func TestSlotsAndReset(t *testing.T) {
	table := memory.New(3)
	h := setupRouter(t, "/api/", table)
	if _, err := table.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	rec := doReq(t, h, http.MethodGet, "/api/slots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var slots []slot.Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 3 || !slots[0].Busy || slots[1].Busy || slots[2].Busy {
		t.Fatalf("unexpected slots %+v", slots)
	}

	rec = doReq(t, h, http.MethodPost, "/api/slots/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	var rr resetResp
	if err := json.Unmarshal(rec.Body.Bytes(), &rr); err != nil || !rr.OK || len(rr.Kept) != 0 {
		t.Fatalf("reset body %q: %v", rec.Body.String(), err)
	}
	got, _ := table.List(context.Background())
	for _, s := range got {
		if s.Busy {
			t.Fatalf("slot %d still busy after reset", s.ID)
		}
	}
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "/x", memory.New(1))
	if rec := doReq(t, h, http.MethodGet, "/x/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := setupRouter(t, "", memory.New(2), WithRateLimit(0.001, 2))
	for i := 0; i < 2; i++ {
		if rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SELECT 1"}); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SELECT 1"})
	if rec.Code != http.StatusTooManyRequests || decodeErr(t, rec).Code != codeRateLimited {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	// other endpoints are not limited
	if rec := doReq(t, h, http.MethodGet, "/slots", nil); rec.Code != http.StatusOK {
		t.Fatalf("slots should not be limited, got %d", rec.Code)
	}
}

func TestStatusForClosed(t *testing.T) {
	code, body := statusFor(dynexec.ErrClosed)
	if code != http.StatusServiceUnavailable || body.Code != codeUnavailable {
		t.Fatalf("unexpected mapping %d %+v", code, body)
	}
}

// brokenTable fails every acquisition the way an unreachable database does.
type brokenTable struct{ slot.Table }

func (brokenTable) Acquire(context.Context) (int, error) {
	return -1, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestExecuteBackendFailureIsNotStatementError(t *testing.T) {
	h := setupRouter(t, "", brokenTable{memory.New(1)})
	rec := doReq(t, h, http.MethodPost, "/execute", executeReq{Statement: "SELECT 1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if e := decodeErr(t, rec); e.Code != codeBackend {
		t.Fatalf("expected code %q, got %+v", codeBackend, e)
	}
}

func TestStatusForInternalFailures(t *testing.T) {
	cases := map[string]error{
		"busy":    executor.ErrBusy,
		"panic":   &executor.PanicError{Slot: 0, Value: "nil map"},
		"unknown": executor.ErrUnknownExecutor,
	}
	for name, err := range cases {
		code, body := statusFor(err)
		if code != http.StatusInternalServerError || body.Code != codeInternal {
			t.Errorf("%s: got %d %+v", name, code, body)
		}
	}
	// losing every claim race is retryable, unlike a broken table
	contention := &dynexec.BackendError{Op: "acquire slot", Err: fmt.Errorf("%w: 8 attempts", slot.ErrContention)}
	if code, body := statusFor(contention); code != http.StatusServiceUnavailable || body.Code != codeContention {
		t.Fatalf("contention: got %d %+v", code, body)
	}
	if code, body := statusFor(errNoSuchTable); code != http.StatusUnprocessableEntity || body.Code != codeStatement {
		t.Fatalf("statement error: got %d %+v", code, body)
	}
}
