package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var in map[string]int
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(map[string]int{"sum": in["a"] + in["b"]})
	}))
	defer srv.Close()

	var out struct{ Sum int }
	err := PostJSON(context.Background(), nil, srv.URL, map[string]int{"a": 2, "b": 3}, &out)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Sum != 5 {
		t.Errorf("Sum = %d, want 5", out.Sum)
	}
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), NewClient(DefaultTimeout), srv.URL, struct{}{}, nil)

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if serr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", serr.StatusCode)
	}
	if serr.Body != "model not loaded" {
		t.Errorf("Body = %q", serr.Body)
	}
}
