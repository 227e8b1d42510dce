package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tessro/tether/internal/logging"
)

// shortDir returns a temporary directory whose socket paths stay well under
// the unix socket path limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tether")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	logging.Discard()
	socketPath := filepath.Join(shortDir(t), "test.sock")
	srv := NewServer(socketPath, h)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, socketPath
}

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) *Response {
		switch req.Type {
		case CmdPing:
			return OK(PingData{Pong: true, PID: 99})
		case CmdStatus:
			return OK(DaemonState{Running: true, PID: 99})
		}
		return Fail("unknown command")
	})
}

// readResponses reads n response lines from conn.
func readResponses(t *testing.T, conn net.Conn, n int) []Response {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)
	out := make([]Response, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("decode response %d %q: %v", i, line, err)
		}
		out = append(out, resp)
	}
	return out
}

func TestServer_StartStop(t *testing.T) {
	logging.Discard()
	socketPath := filepath.Join(shortDir(t), "test.sock")
	srv := NewServer(socketPath, echoHandler())

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatal("socket file not removed after Stop()")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	logging.Discard()
	socketPath := filepath.Join(shortDir(t), "test.sock")
	if err := os.WriteFile(socketPath, []byte("left over"), 0600); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(socketPath, echoHandler())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() over stale socket: %v", err)
	}
	defer func() { _ = srv.Stop() }()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()
}

func TestServer_DoubleStart(t *testing.T) {
	srv, _ := startServer(t, echoHandler())
	if err := srv.Start(); err == nil {
		t.Error("expected error on double Start(), got nil")
	}
}

func TestServer_RequestsInOneChunkAnsweredInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []CommandType
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		mu.Lock()
		seen = append(seen, req.Type)
		mu.Unlock()
		return echoHandler().Handle(ctx, req)
	})
	_, socketPath := startServer(t, h)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"ping"}` + "\n" + `{"type":"status"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	resps := readResponses(t, conn, 2)
	var ping PingData
	if err := resps[0].Decode(&ping); err != nil || !ping.Pong {
		t.Errorf("first response = %+v, want pong", resps[0])
	}
	var st DaemonState
	if err := resps[1].Decode(&st); err != nil || !st.Running {
		t.Errorf("second response = %+v, want status", resps[1])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != CmdPing || seen[1] != CmdStatus {
		t.Errorf("dispatched %v, want [ping status] once each", seen)
	}
}

func TestServer_FragmentedRequest(t *testing.T) {
	_, socketPath := startServer(t, echoHandler())

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for _, part := range []string{`{"ty`, `pe":"pi`, `ng"}` + "\n"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	resps := readResponses(t, conn, 1)
	if !resps[0].Success {
		t.Errorf("fragmented ping failed: %s", resps[0].Error)
	}
}

func TestServer_MalformedLineKeepsConnection(t *testing.T) {
	_, socketPath := startServer(t, echoHandler())

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n" + `{"type":"ping"}` + "\n")); err != nil {
		t.Fatal(err)
	}
	resps := readResponses(t, conn, 2)
	if resps[0].Success || resps[0].Error == "" {
		t.Errorf("malformed line response = %+v, want failure", resps[0])
	}
	if !resps[1].Success {
		t.Errorf("ping after malformed line = %+v", resps[1])
	}
}

func TestServer_AfterSendRunsAfterWrite(t *testing.T) {
	ran := make(chan struct{})
	h := HandlerFunc(func(ctx context.Context, req *Request) *Response {
		return OK(nil).Then(func() { close(ran) })
	})
	_, socketPath := startServer(t, h)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"stop"}` + "\n")); err != nil {
		t.Fatal(err)
	}
	if resps := readResponses(t, conn, 1); !resps[0].Success {
		t.Errorf("response = %+v", resps[0])
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("after-send hook did not run")
	}
}

func TestServer_NilResponse(t *testing.T) {
	_, socketPath := startServer(t, HandlerFunc(func(context.Context, *Request) *Response { return nil }))

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"ping"}` + "\n")); err != nil {
		t.Fatal(err)
	}
	if resps := readResponses(t, conn, 1); resps[0].Success {
		t.Error("nil handler response should be reported as failure")
	}
}
