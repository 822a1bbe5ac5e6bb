package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
)

// MaxMessageSize bounds one length-prefixed message.
const MaxMessageSize = 16 << 20

// WriteMessage writes m as a 4-byte big-endian length prefix followed by msgpack.
func WriteMessage(w io.Writer, m Message) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack frame: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write msgpack frame: %w", err)
	}
	return nil
}

// ReadMessages decodes length-prefixed msgpack frames from r into q until EOF
// or ctx is done. It waits for queue space, so the worker is slowed rather
// than losing frames. Undecodable payloads are dropped; a bad length prefix
// ends the stream since framing is lost.
func ReadMessages(ctx context.Context, r io.Reader, q *Queue, source string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var prefix [4]byte
	for {
		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read length prefix: %w", err)
		}
		n := binary.BigEndian.Uint32(prefix[:])
		if n == 0 || n > MaxMessageSize {
			return fmt.Errorf("invalid frame length %d", n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("failed to read msgpack frame: %w", err)
		}

		var m Message
		if err := msgpack.Unmarshal(data, &m); err != nil {
			q.malformed(source, err)
			continue
		}
		f := m.Frame()
		if f.Source == "" {
			f.Source = source
		}
		if err := q.PushWait(ctx, f); err != nil {
			// Keep the pipe drained so the worker can see stdin close and exit.
			_, _ = io.Copy(io.Discard, br)
			return nil
		}
	}
}

// Process supervises the detector worker. The worker writes length-prefixed
// msgpack frames to stdout and logs to stderr; closing its stdin asks it to
// exit.
type Process struct {
	Argv        []string
	Env         []string
	StopTimeout time.Duration

	queue *Queue
}

// NewProcess creates a supervisor for argv.
func NewProcess(argv []string, q *Queue) *Process {
	return &Process{Argv: argv, StopTimeout: 2 * time.Second, queue: q}
}

// Name identifies the source in logs.
func (p *Process) Name() string { return "process:" + p.Argv[0] }

// Run starts the worker and blocks until ctx is cancelled or the worker exits.
// An exit that was not requested is returned as an error.
func (p *Process) Run(ctx context.Context) error {
	if len(p.Argv) == 0 {
		return errors.New("no detector command configured")
	}
	cmd := exec.Command(p.Argv[0], p.Argv[1:]...)
	cmd.Env = append(os.Environ(), p.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}
	logger.Info("Ingest", "Detector started: pid=%d cmd=%s", cmd.Process.Pid, strings.Join(p.Argv, " "))

	var wg sync.WaitGroup
	wg.Add(2)
	var readErr error
	go func() {
		defer wg.Done()
		readErr = ReadMessages(ctx, stdout, p.queue, "detector")
	}()
	go func() {
		defer wg.Done()
		logStderr(stderr)
	}()
	readersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(readersDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Ingest", "Stopping detector pid=%d", cmd.Process.Pid)
		stdin.Close()
		select {
		case <-readersDone:
		case <-time.After(p.StopTimeout):
			logger.Warn("Ingest", "Detector did not exit within %s, killing", p.StopTimeout)
			cmd.Process.Kill()
			<-readersDone
		}
		err := cmd.Wait()
		logger.Info("Ingest", "Detector exited (shutdown): %v", exitStatus(err))
		return nil

	case <-readersDone:
		stdin.Close()
		err := cmd.Wait()
		if readErr != nil {
			logger.Error("Ingest", "Detector stream error: %v", readErr)
		}
		logger.Error("Ingest", "Detector exited unexpectedly: %v", exitStatus(err))
		return fmt.Errorf("detector exited: %s", exitStatus(err))
	}
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// logStderr maps worker log lines onto our levels.
func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]", "Traceback"):
			logger.Error("Detector", "%s", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			logger.Warn("Detector", "%s", line)
		default:
			logger.Debug("Detector", "%s", line)
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
