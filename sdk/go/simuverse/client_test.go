package simuverse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the SimuVerse API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": msg},
		"meta":  map[string]any{"request_id": "req-1", "timestamp": time.Now().UTC()},
	})
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL + "/", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty BaseURL")
	}
}

func TestGenerateSendsBodyAndDecodesResponse(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /generate": func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var req GenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
			if req.AgentID != "Agent7" || req.Task != "buy flour" {
				t.Errorf("unexpected request: %+v", req)
			}
			writeJSON(w, http.StatusOK, GenerateResponse{
				AgentID:  req.AgentID,
				Text:     "Off to the mill.\nMOVE: Mill",
				Action:   ActionMove,
				Location: "mill",
			})
		},
	})

	c := newTestClient(t, srv.URL)
	resp, err := c.Generate(context.Background(), GenerateRequest{
		AgentID:      "Agent7",
		UserInput:    "You are in the plaza.",
		SystemPrompt: "You are a baker.",
		Task:         "buy flour",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Action != ActionMove || resp.Location != "mill" {
		t.Errorf("got %+v", resp)
	}
}

func TestGenerateRequiresAgentID(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	if _, err := c.Generate(context.Background(), GenerateRequest{}); err == nil {
		t.Fatal("expected error for empty AgentID")
	}
}

func TestGenerateProviderFailure(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /generate": func(w http.ResponseWriter, _ *http.Request) {
			writeAPIError(w, http.StatusBadGateway, "PROVIDER_FAILURE", "completion provider failed")
		},
	})

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), GenerateRequest{AgentID: "A"})
	if !IsProviderFailure(err) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "PROVIDER_FAILURE" || apiErr.RequestID != "req-1" {
		t.Errorf("got %+v", apiErr)
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, IsNotFound},
		{http.StatusBadRequest, IsInvalidInput},
		{http.StatusRequestEntityTooLarge, IsInvalidInput},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusBadGateway, IsProviderFailure},
	}
	for _, tt := range tests {
		err := &Error{StatusCode: tt.status}
		if !tt.check(err) {
			t.Errorf("status %d: predicate returned false", tt.status)
		}
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("plain errors never match")
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
		},
	})

	_, err := newTestClient(t, srv.URL).Health(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "Service Unavailable" {
		t.Errorf("Code = %q", apiErr.Code)
	}
}

func TestSessionEscapesAgentID(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/sessions/{agent_id}": func(w http.ResponseWriter, r *http.Request) {
			id := r.PathValue("agent_id")
			if id != "Agent 7" {
				t.Errorf("agent_id = %q", id)
			}
			writeJSON(w, http.StatusOK, Session{
				AgentID:  id,
				Messages: []Message{{Role: "system", Content: "You are a baker."}},
			})
		},
	})

	s, err := newTestClient(t, srv.URL).Session(context.Background(), "Agent 7")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(s.Messages) != 1 || s.Messages[0].Role != "system" {
		t.Errorf("got %+v", s)
	}
}

func TestSessionNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/sessions/{agent_id}": func(w http.ResponseWriter, _ *http.Request) {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no session")
		},
	})

	_, err := newTestClient(t, srv.URL).Session(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLogsAndAgents(t *testing.T) {
	id := uuid.New()
	entry := LogEntry{ID: id, AgentID: "A", Timestamp: time.Now().UTC(), Type: "response", Details: map[string]any{"text": "hi"}}
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/logs/{agent_id}": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []LogEntry{entry})
		},
		"GET /api/logs": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string][]LogEntry{"A": {entry}})
		},
		"GET /api/agents": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"agents": []string{"A", "B"}})
		},
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	logs, err := c.Logs(ctx, "A")
	if err != nil || len(logs) != 1 || logs[0].ID != id {
		t.Fatalf("Logs = %+v, %v", logs, err)
	}
	all, err := c.AllLogs(ctx)
	if err != nil || len(all["A"]) != 1 {
		t.Fatalf("AllLogs = %+v, %v", all, err)
	}
	agents, err := c.Agents(ctx)
	if err != nil || len(agents) != 2 {
		t.Fatalf("Agents = %v, %v", agents, err)
	}
}

func TestResetAndClearLogs(t *testing.T) {
	var resets, clears int
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /reset": func(w http.ResponseWriter, _ *http.Request) {
			resets++
			writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "System reset successfully"})
		},
		"POST /clear_logs": func(w http.ResponseWriter, _ *http.Request) {
			clears++
			writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "All logs cleared"})
		},
	})
	c := newTestClient(t, srv.URL)

	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := c.ClearLogs(context.Background()); err != nil {
		t.Fatalf("ClearLogs: %v", err)
	}
	if resets != 1 || clears != 1 {
		t.Errorf("resets=%d clears=%d", resets, clears)
	}
}

func TestTimeout(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /generate": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			writeJSON(w, http.StatusOK, GenerateResponse{})
		},
	})
	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Generate(context.Background(), GenerateRequest{AgentID: "A"}); err == nil {
		t.Fatal("expected timeout error")
	}
}
