package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Environment passed from the supervisor to the daemon it forks.
const (
	// EnvDaemon marks a process started as the background daemon.
	EnvDaemon = "TETHER_DAEMON"

	// EnvReadyFD names the file descriptor the daemon reports readiness on.
	EnvReadyFD = "TETHER_READY_FD"
)

// readyFD is the descriptor number of the first ExtraFiles entry.
const readyFD = 3

type handshakeMsg struct {
	Type string `json:"type"`
}

const handshakeReady = "ready"

// writeReady reports readiness on w.
func writeReady(w io.Writer) error {
	return writeLine(w, handshakeMsg{Type: handshakeReady})
}

// readyWriterFromEnv opens the readiness descriptor named by EnvReadyFD.
func readyWriterFromEnv() (io.WriteCloser, error) {
	raw := os.Getenv(EnvReadyFD)
	if raw == "" {
		return nil, nil
	}
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s %q", EnvReadyFD, raw)
	}
	f := os.NewFile(uintptr(fd), "ready")
	if f == nil {
		return nil, fmt.Errorf("invalid %s %q", EnvReadyFD, raw)
	}
	return f, nil
}

// errExitedBeforeReady is returned when the daemon dies during startup.
var errExitedBeforeReady = errors.New("daemon exited before signalling readiness")

// waitReady waits for the ready line on r. exited is closed when the child
// process has exited.
func waitReady(ctx context.Context, r io.Reader, exited <-chan struct{}) error {
	result := make(chan error, 1)
	go func() {
		line, err := NewLineReader(r).ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				result <- errExitedBeforeReady
				return
			}
			result <- fmt.Errorf("read readiness: %w", err)
			return
		}
		var msg handshakeMsg
		if err := json.Unmarshal(line, &msg); err != nil || msg.Type != handshakeReady {
			result <- fmt.Errorf("unexpected readiness message %q", line)
			return
		}
		result <- nil
	}()

	select {
	case err := <-result:
		return err
	case <-exited:
		// A ready line written just before exiting still counts.
		select {
		case err := <-result:
			return err
		default:
			return errExitedBeforeReady
		}
	case <-ctx.Done():
		return fmt.Errorf("daemon did not become ready: %w", ctx.Err())
	}
}
