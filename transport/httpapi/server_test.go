package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/rushteam/matchkit/core"
	"github.com/rushteam/matchkit/service"
)

type fakeRecs struct {
	results  []core.RecommendationResult
	getErr   error
	trigErr  error
	batchErr error
	users    []string
	dates    []string
}

func (f *fakeRecs) Get(_ context.Context, userID string) ([]core.RecommendationResult, error) {
	return f.results, f.getErr
}

func (f *fakeRecs) TriggerUser(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.trigErr
}

func (f *fakeRecs) TriggerBatch(_ context.Context, batchDate string) (string, error) {
	if f.batchErr != nil {
		return "", f.batchErr
	}
	if batchDate == "" {
		batchDate = "2024-05-20"
	}
	f.dates = append(f.dates, batchDate)
	return batchDate, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, env
}

var notFound = core.WrapDomainError(core.ModuleStore, core.ErrorCodeNotFound, "profile not found", nil)

func TestGetRecommendations(t *testing.T) {
	tests := []struct {
		name     string
		recs     *fakeRecs
		wantCode int
		wantMsg  string
		wantLen  int
	}{
		{
			name: "results",
			recs: &fakeRecs{results: []core.RecommendationResult{
				{TargetUserID: "a", Score: 0.9, Reason: "r", Status: core.ReasonGenerated, Tags: []string{"旅行"}},
				{TargetUserID: "b", Score: 0.5, Reason: "r", Status: core.ReasonFallback},
			}},
			wantCode: http.StatusOK, wantMsg: "获取推荐列表成功", wantLen: 2,
		},
		{name: "computing", recs: &fakeRecs{getErr: service.ErrComputing}, wantCode: http.StatusAccepted, wantMsg: "推荐正在计算中，请稍后重试"},
		{name: "unknown user", recs: &fakeRecs{getErr: notFound}, wantCode: http.StatusNotFound, wantMsg: "用户不存在"},
		{name: "store down", recs: &fakeRecs{getErr: errors.New("boom")}, wantCode: http.StatusInternalServerError, wantMsg: "获取推荐列表失败"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(tt.recs, nil, nil).Routes()
			code, env := do(t, h, http.MethodGet, "/api/v3/recommendations/u1", "")
			if code != tt.wantCode || env.Code != tt.wantCode {
				t.Fatalf("status = %d code = %d, want %d", code, env.Code, tt.wantCode)
			}
			if env.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMsg)
			}
			if tt.wantCode >= 300 {
				return
			}
			var items []Item
			if err := json.Unmarshal(env.Data, &items); err != nil {
				t.Fatalf("decode items: %v", err)
			}
			if len(items) != tt.wantLen {
				t.Fatalf("items = %d, want %d", len(items), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if !items[0].ReasonGenerated || items[1].ReasonGenerated {
					t.Errorf("reasonGenerated flags = %v, %v", items[0].ReasonGenerated, items[1].ReasonGenerated)
				}
				if items[1].Tags == nil {
					t.Error("tags should render as an empty list")
				}
			}
		})
	}
}

func TestTriggerUser(t *testing.T) {
	recs := &fakeRecs{}
	h := NewServer(recs, nil, nil).Routes()
	code, env := do(t, h, http.MethodPost, "/api/v3/recommendations/trigger/u9", "")
	if code != http.StatusOK || env.Message != "推荐任务已触发" {
		t.Fatalf("status = %d message = %q", code, env.Message)
	}
	if len(recs.users) != 1 || recs.users[0] != "u9" {
		t.Errorf("triggered = %v", recs.users)
	}

	recs.trigErr = notFound
	if code, _ := do(t, h, http.MethodPost, "/api/v3/recommendations/trigger/ghost", ""); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestTriggerBatch(t *testing.T) {
	recs := &fakeRecs{}
	h := NewServer(recs, nil, nil).Routes()

	code, env := do(t, h, http.MethodPost, "/api/v3/recommendations/batch", `{"targetDate":"2024-06-01"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var data map[string]string
	_ = json.Unmarshal(env.Data, &data)
	if data["targetDate"] != "2024-06-01" {
		t.Errorf("targetDate = %q", data["targetDate"])
	}

	if code, _ := do(t, h, http.MethodPost, "/api/v3/recommendations/batch", ""); code != http.StatusOK {
		t.Errorf("empty body status = %d, want 200", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/v3/recommendations/batch", "{"); code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", code)
	}

	recs.batchErr = core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "invalid batch date")
	if code, _ := do(t, h, http.MethodPost, "/api/v3/recommendations/batch", `{"targetDate":"bad"}`); code != http.StatusBadRequest {
		t.Errorf("invalid date status = %d, want 400", code)
	}
	if len(recs.dates) != 2 {
		t.Errorf("dispatched %v", recs.dates)
	}
}

func TestHealthz(t *testing.T) {
	checks := map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}
	h := NewServer(&fakeRecs{}, checks, nil).Routes()
	if code, _ := do(t, h, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}

	checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	code, env := do(t, h, http.MethodGet, "/healthz", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	var status map[string]string
	_ = json.Unmarshal(env.Data, &status)
	if status["postgres"] != "ok" || status["redis"] != "connection refused" {
		t.Errorf("status = %v", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(&fakeRecs{}, nil, nil).Routes()
	_, _ = do(t, h, http.MethodGet, "/api/v3/recommendations/u1", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "matchkit_") {
		t.Error("metrics output has no matchkit series")
	}
}

func TestRecoverer(t *testing.T) {
	s := NewServer(&fakeRecs{}, nil, nil)
	h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	code, env := do(t, h, http.MethodGet, "/", "")
	if code != http.StatusInternalServerError || env.Code != http.StatusInternalServerError {
		t.Errorf("status = %d code = %d", code, env.Code)
	}
}
