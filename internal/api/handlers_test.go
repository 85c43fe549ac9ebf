package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/painreview/internal/config"
	"github.com/painreview/internal/engine"
	"github.com/painreview/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Workers = 2
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	// Rate limiting off so the test can hammer the endpoints.
	return NewServer(eng, 0, 0)
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAndFetchReview(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/v1/reviews",
		`{"source_text":"package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n","language_hint":"go","review_type":"PAIN_ANALYSIS","requested_by":"tester"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	requestID := submitted["request_id"]
	require.NotEmpty(t, requestID)

	var result models.ReviewResult
	require.Eventually(t, func() bool {
		rec := doJSON(s, http.MethodGet, "/api/v1/reviews/"+requestID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rec.Body.Bytes(), &result) == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 100, result.FinalScore)
	assert.Equal(t, models.TierDivine, result.Tier)

	t.Run("HistoryQuery", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/api/v1/reviews?tier=divine", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var results []models.ReviewResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		assert.NotEmpty(t, results)
	})
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	t.Run("MissingSource", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/reviews", `{"language_hint":"go"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownReviewType", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/reviews", `{"source_text":"x","review_type":"VIBES"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResultNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/api/v1/reviews/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Code)
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/v1/reviews",
		`{"source_text":"package main\n\nfunc main() {}\n","language_hint":"go","review_type":"PAIN_ANALYSIS"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	requestID := submitted["request_id"]

	require.Eventually(t, func() bool {
		return doJSON(s, http.MethodGet, "/api/v1/reviews/"+requestID, "").Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(s, http.MethodPost, "/api/v1/sessions",
		`{"request_id":"`+requestID+`","role":"IMPLEMENTATION_ANALYST","opinion":85,"notes":"fine"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var opened map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	sessionID := opened["session_id"]
	require.NotEmpty(t, sessionID)

	rec = doJSON(s, http.MethodGet, "/api/v1/sessions/"+sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session models.PeerSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, models.SessionCollecting, session.State)

	t.Run("ContributeThenClose", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/contributions",
			`{"role":"ARCHITECTURE_REVIEWER","opinion":75}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/close", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(s, http.MethodPost, "/api/v1/sessions/"+sessionID+"/contributions",
			`{"role":"DOCUMENTATION_KEEPER","opinion":50}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "session_closed", body.Code)
	})
}

func TestContributeUnassignedRole(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Workers = 2
	cfg.Session.RequiredRoles = []string{"IMPLEMENTATION_ANALYST"}
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	s := NewServer(eng, 0, 0)

	rec := doJSON(s, http.MethodPost, "/api/v1/reviews",
		`{"source_text":"package main\n\nfunc main() {}\n","language_hint":"go"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	requestID := submitted["request_id"]

	require.Eventually(t, func() bool {
		return doJSON(s, http.MethodGet, "/api/v1/reviews/"+requestID, "").Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(s, http.MethodPost, "/api/v1/sessions", `{"request_id":"`+requestID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var opened map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))

	rec = doJSON(s, http.MethodPost, "/api/v1/sessions/"+opened["session_id"]+"/contributions",
		`{"role":"DOCUMENTATION_KEEPER","opinion":50}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "role_not_assigned", body.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	s := NewServer(eng, 0, 1)

	var limited bool
	for i := 0; i < 10; i++ {
		if doJSON(s, http.MethodGet, "/health", "").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestPollEvents(t *testing.T) {
	s := newTestServer(t)

	done := make(chan []models.Event, 1)
	go func() {
		rec := doJSON(s, http.MethodGet, "/api/v1/events?kinds=ReviewCompleted&wait_ms=2000&max=1", "")
		var events []models.Event
		_ = json.Unmarshal(rec.Body.Bytes(), &events)
		done <- events
	}()

	// Give the poller a moment to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	rec := doJSON(s, http.MethodPost, "/api/v1/reviews",
		`{"source_text":"package main\n\nfunc main() {}\n","language_hint":"go"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case events := <-done:
		require.Len(t, events, 1)
		assert.Equal(t, models.EventReviewCompleted, events[0].Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("event poll did not return")
	}
}
