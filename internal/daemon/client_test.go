package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
)

// serveUnix serves s over a unix socket and returns a client for it.
func serveUnix(t *testing.T, s *Server) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "fi")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: s.Handler()}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	client := NewClient(sock)
	if !client.IsAvailable() {
		t.Fatal("test daemon not reachable")
	}
	return client
}

func TestClient_RoundTrip(t *testing.T) {
	s, _ := testServer(t, nil)
	s.Restore()
	client := serveUnix(t, s)
	ctx := context.Background()

	root, _ := filepath.Abs(testdataRoot)
	var progress []string
	resp, err := client.Load(ctx, rpc.LoadRequest{Roots: []string{root}}, func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Artifacts != 4 || len(progress) == 0 {
		t.Fatalf("unexpected load response %+v (progress %v)", resp, progress)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Traits != 2 || status.Modules != 2 {
		t.Errorf("unexpected status %+v", status)
	}

	sb, err := client.Sidebar(ctx, rpc.SidebarRequest{Module: "libffi::low"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sb.Sections) == 0 || sb.Sections[0].Category != "constant" {
		t.Errorf("unexpected sidebar %+v", sb.Sections)
	}

	exp, err := client.Export(ctx, rpc.ExportRequest{Subject: "mpi::request"})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(filepath.Join(testdataRoot, "mpi/request/sidebar-items.js"))
	if exp.Content != string(want) {
		t.Error("exported sidebar differs from the loaded file")
	}

	if err := client.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = client.Implementors(ctx, rpc.ImplementorsRequest{Trait: "core::fmt::Display"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if se.Message != "no implementors registered for core::fmt::Display" {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestClient_Unavailable(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "none.sock"))
	if client.IsAvailable() {
		t.Fatal("expected no daemon")
	}
	if client.WaitAvailable(120 * time.Millisecond) {
		t.Error("expected wait to time out")
	}
	if _, err := client.Status(context.Background()); err == nil {
		t.Error("expected error without a daemon")
	}
}
