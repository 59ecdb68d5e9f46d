package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antonets/toolbridge/internal/shell"
)

func TestGenerate(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(shell.Bundle{
			HTML: `<div id="timer"></div>`,
			CSS:  "#timer { font-size: 2rem; }",
			JS:   "console.log('tick')",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "gen-key")
	bundle, err := c.Generate(context.Background(), "a pomodoro timer", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotPath != "/generate" {
		t.Errorf("path = %q, want /generate", gotPath)
	}
	if gotAuth != "Bearer gen-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Prompt != "a pomodoro timer" {
		t.Errorf("prompt = %q", gotReq.Prompt)
	}
	if gotReq.Previous != nil {
		t.Errorf("previous = %+v, want nil", gotReq.Previous)
	}
	if !strings.Contains(bundle.HTML, "timer") {
		t.Errorf("bundle HTML = %q", bundle.HTML)
	}
}

func TestGenerateSendsPreviousBundle(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(shell.Bundle{HTML: "<p>v2</p>"})
	}))
	defer srv.Close()

	prev := &shell.Bundle{HTML: "<p>v1</p>", JS: "let n = 0"}
	c := NewClient(srv.URL, "")
	if _, err := c.Generate(context.Background(), "make it count down", prev); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.Previous == nil || gotReq.Previous.HTML != "<p>v1</p>" {
		t.Errorf("previous bundle = %+v", gotReq.Previous)
	}
}

func TestGenerateNoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(shell.Bundle{HTML: "<p>x</p>"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.Generate(context.Background(), "x", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("auth header = %q, want none", gotAuth)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantSub string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			wantSub: "503",
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>oops</html>"))
			},
			wantSub: "decoding",
		},
		{
			name: "empty bundle",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(shell.Bundle{CSS: "p { color: red }"})
			},
			wantSub: "empty bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "").Generate(context.Background(), "x", nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	_, err := NewClient("", "").Generate(context.Background(), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("error = %v, want not configured", err)
	}
}
