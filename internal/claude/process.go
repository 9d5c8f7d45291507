// Package claude runs Claude Code in print mode with stream-json output and
// turns its stdout into typed events.
package claude

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/claudian/claudian/pkg/logger"
)

const (
	// killGrace is how long Kill waits after SIGINT before SIGKILL.
	killGrace = 500 * time.Millisecond

	// stderrTailLines bounds the stderr lines kept for failure messages.
	stderrTailLines = 20

	maxLineBytes = 10 * 1024 * 1024
)

// Process is one running Claude Code invocation.
//
// Events are delivered to the emit callback one at a time from a single
// goroutine, in the order the process wrote them. At most one terminal event
// (EvCompleted or EvError) is delivered and nothing follows it. After Kill,
// delivery stops on a best-effort basis: an event already being delivered may
// still arrive.
type Process struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	decoder *Decoder
	emit    func(Event)

	mu         sync.Mutex
	terminated bool
	stderrTail []string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	waitErr  error
}

// Start launches Claude Code for opts and returns once the process is running.
// Launch failures are returned; every later failure is delivered as EvError.
// Canceling ctx kills the process.
func Start(ctx context.Context, opts Options, emit func(Event)) (*Process, error) {
	if emit == nil {
		return nil, errors.New("nil event callback")
	}
	if strings.TrimSpace(opts.WorkDir) == "" {
		return nil, errors.New("missing working directory")
	}
	args, err := BuildArgs(opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(opts.Settings.ClaudePath, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = os.Environ()
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	p := &Process{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		decoder: NewDecoder(opts.Settings.PartialMessages),
		emit:    emit,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	logger.Debugf("Starting claude in %s: %s %s", opts.WorkDir, opts.Settings.ClaudePath, strings.Join(redactPrompt(args), " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}
	logger.Debugf("Claude started (PID: %d)", cmd.Process.Pid)

	go p.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Kill()
		case <-p.done:
		}
	}()
	return p, nil
}

// redactPrompt returns args with the prompt value elided for logging.
func redactPrompt(args []string) []string {
	out := append([]string(nil), args...)
	if len(out) > 1 && out[0] == "-p" {
		out[1] = fmt.Sprintf("<prompt %d bytes>", len(out[1]))
	}
	return out
}

func (p *Process) run() {
	defer close(p.done)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.readStderr()
	}()

	p.readStdout()

	<-stderrDone
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()

	if p.stopped() {
		logger.Debugf("Claude process stopped: %v", err)
		return
	}
	if err != nil {
		p.deliver(EvError{Kind: FailureProcess, Message: p.exitMessage(err)})
		return
	}
	p.deliver(EvError{Kind: FailureProcess, Message: "claude exited without a result"})
}

func (p *Process) readStdout() {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 1024*1024), maxLineBytes)

	for scanner.Scan() {
		if p.stopped() {
			// Drain so the child is not blocked writing to a full pipe.
			_, _ = io.Copy(io.Discard, p.stdout)
			return
		}
		line := scanner.Bytes()
		if logger.Enabled(logger.LevelTrace) {
			logger.Tracef("claude stdout: %s", line)
		}

		events, err := p.decoder.Decode(line)
		if err != nil {
			p.deliver(EvError{Kind: FailureDecode, Message: err.Error()})
			_ = p.Kill()
			_, _ = io.Copy(io.Discard, p.stdout)
			return
		}
		for _, ev := range events {
			p.deliver(ev)
		}
	}

	if err := scanner.Err(); err != nil && !p.stopped() {
		p.deliver(EvError{Kind: FailureDecode, Message: fmt.Sprintf("failed to read agent output: %v", err)})
		_ = p.Kill()
		_, _ = io.Copy(io.Discard, p.stdout)
	}
}

func (p *Process) readStderr() {
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debugf("[claude stderr] %s", line)
		p.mu.Lock()
		p.stderrTail = append(p.stderrTail, line)
		if len(p.stderrTail) > stderrTailLines {
			p.stderrTail = p.stderrTail[len(p.stderrTail)-stderrTailLines:]
		}
		p.mu.Unlock()
	}
}

func (p *Process) exitMessage(err error) string {
	p.mu.Lock()
	tail := strings.TrimSpace(strings.Join(p.stderrTail, "\n"))
	p.mu.Unlock()

	msg := fmt.Sprintf("claude exited: %v", err)
	if tail != "" {
		msg += "\n" + tail
	}
	return msg
}

// deliver forwards ev unless the process was killed or already terminated.
func (p *Process) deliver(ev Event) {
	if p.stopped() {
		return
	}
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	if IsTerminal(ev) {
		p.terminated = true
	}
	p.mu.Unlock()

	p.emit(ev)
}

func (p *Process) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// Kill requests termination: SIGINT first, SIGKILL after a short grace
// period. It does not wait for the process to exit and is safe to call more
// than once.
func (p *Process) Kill() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.cmd.Process == nil {
			return
		}
		logger.Debugf("Killing claude process (PID: %d)", p.cmd.Process.Pid)
		interruptProcess(p.cmd.Process)
		go func(proc *os.Process) {
			select {
			case <-p.done:
			case <-time.After(killGrace):
				killProcess(proc)
			}
		}(p.cmd.Process)
	})
	return nil
}

// Done is closed once the process has exited and all events were delivered.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}
