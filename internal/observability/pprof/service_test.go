package pprof

import (
	"context"
	"net/http"
	"testing"
	"time"

	logx "audiocast/pkg/logx"
)

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()
		if ln != nil {
			return ln.Addr().String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start")
	return ""
}

func TestTokenGuard(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "sekrit"}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	addr := waitAddr(t, s)

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200", resp.StatusCode)
	}
}

func TestNonLoopbackRefusedWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	s.mu.Lock()
	started := s.srv != nil
	s.mu.Unlock()
	if started {
		t.Fatal("non-loopback bind without token must be refused")
	}
}

func TestDisabledDoesNothing(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.srv != nil {
		t.Fatal("disabled service started a server")
	}
}
