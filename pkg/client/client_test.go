//go:build !windows

package client_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neuronlabs/botregistry"
	btls "github.com/neuronlabs/botregistry/internal/tls"
	"github.com/neuronlabs/botregistry/pkg/client"
)

func openRegistry(t *testing.T) *botregistry.Registry {
	t.Helper()
	root := t.TempDir()
	c := botregistry.DefaultConfig()
	c.Registry.Dir = filepath.Join(root, "bots")
	c.Log.Path = filepath.Join(root, "registry.log")
	c.Store.DSN = "sqlite://" + filepath.Join(root, "integrity.db")
	c.Logging.Slog.Path = filepath.Join(root, "botregistry.log")
	if err := os.MkdirAll(c.Registry.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"good-bot": "echo ok", "bad-bot": "exit 3"} {
		if err := os.WriteFile(filepath.Join(c.Registry.Dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	r, err := botregistry.Open(context.Background(), c)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestClientAgainstRegistry(t *testing.T) {
	ctx := context.Background()
	r := openRegistry(t)
	srv := httptest.NewServer(r.Handler(ctx, "/api", ""))
	defer srv.Close()

	cl, err := client.New(client.Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !cl.IsReachable(ctx) {
		t.Fatalf("daemon not reachable")
	}
	if _, err := cl.LastRun(ctx); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("last run before any run: %v", err)
	}

	sum, err := cl.TriggerRun(ctx, true)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sum.Discovered != 2 || sum.Passed != 1 || sum.Failed != 1 || sum.ExitCode != botregistry.ExitFailures {
		t.Fatalf("summary: %+v", sum)
	}
	if len(sum.Outcomes) != 2 {
		t.Fatalf("outcomes: %+v", sum.Outcomes)
	}

	last, err := cl.LastRun(ctx)
	if err != nil || last.RunID != sum.RunID {
		t.Fatalf("last run: %+v %v", last, err)
	}
	st, err := cl.State(ctx)
	if err != nil || st.Running || st.State != "completed" {
		t.Fatalf("state: %+v %v", st, err)
	}

	recs, err := cl.ListBots(ctx)
	if err != nil || len(recs) != 1 || recs[0].Name != "good-bot" || len(recs[0].LastGoodDigest) != 64 {
		t.Fatalf("bots: %+v %v", recs, err)
	}
	rec, err := cl.GetBot(ctx, "good-bot")
	if err != nil || rec.LastGoodDigest != recs[0].LastGoodDigest {
		t.Fatalf("get bot: %+v %v", rec, err)
	}
	if _, err := cl.GetBot(ctx, "bad-bot"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("bot without baseline: %v", err)
	}
	if err := cl.ForgetBot(ctx, "good-bot"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if err := cl.ForgetBot(ctx, "good-bot"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("forget twice: %v", err)
	}
	if err := cl.ForgetBot(ctx, ".."); err == nil {
		t.Fatalf("unsafe name accepted")
	}
}

func TestTriggerRunAsyncAndConflict(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"registry run already in progress"}`))
	}))
	defer srv.Close()

	cl, err := client.New(client.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := cl.TriggerRun(context.Background(), false)
	if err != nil || sum.RunID != "" {
		t.Fatalf("async trigger: %+v %v", sum, err)
	}
	if _, err := cl.TriggerRun(context.Background(), true); !errors.Is(err, client.ErrRunInProgress) {
		t.Fatalf("want ErrRunInProgress, got %v", err)
	}
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	cl, err := client.New(client.Config{BaseURL: "http://" + addr, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if cl.IsReachable(context.Background()) {
		t.Fatalf("closed port reported reachable")
	}
}

func TestClientOverTLS(t *testing.T) {
	ctx := context.Background()
	r := openRegistry(t)
	tc := btls.Config{Enabled: true, Dir: filepath.Join(t.TempDir(), "tls"), AutoGenerate: true, MinVersion: "1.2"}
	tlsConfig, err := btls.Setup(tc)
	if err != nil {
		t.Fatalf("tls setup: %v", err)
	}
	srv := httptest.NewUnstartedServer(r.Handler(ctx, "/api", ""))
	_ = srv.Listener.Close()
	srv.Listener = tlsListener(t, tlsConfig)
	srv.Start()
	defer srv.Close()
	base := "https://" + srv.Listener.Addr().String() + "/api"

	if _, err := client.New(client.Config{BaseURL: base, TLS: &client.TLSClientConfig{CACert: filepath.Join(t.TempDir(), "missing.crt")}}); err == nil {
		t.Fatalf("missing CA accepted")
	}

	untrusted, err := client.New(client.Config{BaseURL: base})
	if err != nil {
		t.Fatal(err)
	}
	if untrusted.IsReachable(ctx) {
		t.Fatalf("self-signed server trusted without its CA")
	}

	cl, err := client.New(client.Config{BaseURL: base, TLS: &client.TLSClientConfig{CACert: tc.CACertPath()}})
	if err != nil {
		t.Fatal(err)
	}
	if !cl.IsReachable(ctx) {
		t.Fatalf("TLS daemon not reachable with its CA")
	}
	sum, err := cl.TriggerRun(ctx, true)
	if err != nil || sum.Discovered != 2 {
		t.Fatalf("trigger over tls: %+v %v", sum, err)
	}
}

func tlsListener(t *testing.T, cfg *tls.Config) net.Listener {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}
