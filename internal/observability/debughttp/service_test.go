package debughttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "hatbot/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	h := s.Handler("secret")

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{name: "no token", url: "/healthz", want: http.StatusUnauthorized},
		{name: "bad token", url: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "query token", url: "/healthz?token=secret", want: http.StatusOK},
		{name: "bearer", url: "/healthz", header: "Bearer secret", want: http.StatusOK},
		{name: "pprof guarded", url: "/debug/pprof/", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("got %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestStatusEncodesSnapshot(t *testing.T) {
	s := New(Config{}, func(context.Context) any {
		return map[string]any{"phase": "live", "reservations": 2}
	}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["phase"] != "live" || got["reservations"] != float64(2) {
		t.Fatalf("got %v", got)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestReconfigureStartStop(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	var addr string
	for addr == "" {
		if ctx.Err() != nil {
			t.Fatal("server never bound")
		}
		time.Sleep(20 * time.Millisecond)
		addr = s.Addr()
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if got := s.Addr(); got != "" {
		t.Fatalf("expected server to stop, still at %s", got)
	}
}

func TestInsecureBindRefused(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.serve(context.Background()); err != ErrInsecureBind {
		t.Fatalf("got %v, want %v", err, ErrInsecureBind)
	}
}
