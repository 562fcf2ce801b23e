package sidecar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultEventBuffer = 256
	maxLineSize        = 1 << 20
	stopWaitLimit      = 5 * time.Second
	// drainLimit bounds how long output is read after the process exits.
	// Descendants outside the process group can hold the pipes open.
	drainLimit = time.Second
)

var ErrStopTimeout = errors.New("sidecar did not exit after kill")

type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventError
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one item on a child's output channel. Terminated is always the
// last event; the channel is closed right after it.
type Event struct {
	Kind EventKind
	Line string
	Err  error
	Exit *ExitStatus
	Time time.Time
}

// ExitStatus mirrors how the process ended. Code is nil when the process
// was killed by a signal; Signal is nil otherwise.
type ExitStatus struct {
	Code   *int
	Signal *int
}

func (s ExitStatus) Success() bool {
	return s.Code != nil && *s.Code == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Code != nil:
		return fmt.Sprintf("exit code %d", *s.Code)
	case s.Signal != nil:
		return fmt.Sprintf("signal %d", *s.Signal)
	}
	return "unknown exit"
}

// Child is the handle to a running sidecar: its PID and its event channel.
type Child struct {
	PID    int
	Events <-chan Event

	name    string
	cmd     *exec.Cmd
	pipes   []*os.File
	events  chan Event
	sendMu  sync.Mutex
	closed  bool
	dropped atomic.Int64
	started time.Time

	done chan struct{}
	exit ExitStatus
}

// Spawn starts cmd in its own process group with stdout and stderr
// captured line by line.
func Spawn(ctx context.Context, cmd *Command) (*Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cmd == nil || cmd.Path == "" {
		return nil, errors.New("sidecar command has no path")
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = envList(cmd.Env)
	configureProcess(c)

	// Plain os.Pipe pairs instead of StdoutPipe: Wait must not depend on the
	// pipes closing, since grandchildren inherit the write ends.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	c.Stdout = stdoutW
	c.Stderr = stderrW

	err = c.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	size := cmd.EventBuffer
	if size <= 0 {
		size = DefaultEventBuffer
	}
	// one slot above the output cap is kept for Terminated
	events := make(chan Event, size+1)

	child := &Child{
		PID:     c.Process.Pid,
		Events:  events,
		name:    cmd.Name,
		cmd:     c,
		pipes:   []*os.File{stdout, stderr},
		events:  events,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go child.scan(&readers, stdout, EventStdout)
	go child.scan(&readers, stderr, EventStderr)
	go child.wait(&readers)

	return child, nil
}

func (c *Child) scan(wg *sync.WaitGroup, r io.Reader, kind EventKind) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		c.send(Event{Kind: kind, Line: scanner.Text(), Time: time.Now()})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		c.send(Event{Kind: EventError, Err: fmt.Errorf("read %s: %w", kind, err), Time: time.Now()})
		// keep the pipe drained so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

// send never blocks. Output is dropped once only the reserved slot is left.
func (c *Child) send(ev Event) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	if len(c.events) >= cap(c.events)-1 {
		c.dropped.Add(1)
		return
	}
	c.events <- ev
}

func (c *Child) wait(readers *sync.WaitGroup) {
	err := c.cmd.Wait()

	// leftovers in the group would keep the pipes open
	reapGroup(c.PID)

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	timer := time.NewTimer(drainLimit)
	select {
	case <-drained:
	case <-timer.C:
		for _, p := range c.pipes {
			p.Close()
		}
		// a reader stuck in a read that Close cannot interrupt is left
		// behind; send drops anything it produces after Terminated
		select {
		case <-drained:
		case <-time.After(drainLimit):
		}
	}
	timer.Stop()
	for _, p := range c.pipes {
		p.Close()
	}

	status := exitStatusOf(c.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		c.send(Event{Kind: EventError, Err: err, Time: time.Now()})
	}

	c.exit = status
	c.sendMu.Lock()
	c.events <- Event{Kind: EventTerminated, Exit: &status, Time: time.Now()}
	close(c.events)
	c.closed = true
	c.sendMu.Unlock()
	close(c.done)
}

func exitStatusOf(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{}
	}
	var status ExitStatus
	if code := ps.ExitCode(); code >= 0 {
		status.Code = &code
	}
	status.Signal = exitSignal(ps)
	return status
}

// Name is the sidecar name the child was spawned under.
func (c *Child) Name() string { return c.name }

// StartedAt is when the process was started.
func (c *Child) StartedAt() time.Time { return c.started }

// Done is closed after the process has exited and Terminated was sent.
func (c *Child) Done() <-chan struct{} { return c.done }

// Dropped counts output events lost because nobody drained Events.
func (c *Child) Dropped() int64 { return c.dropped.Load() }

func (c *Child) Running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process has exited.
func (c *Child) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-c.done:
		return c.exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill terminates the whole process group immediately.
func (c *Child) Kill() error {
	if !c.Running() {
		return nil
	}
	return killGroup(c.cmd.Process)
}

// Stop asks the process group to terminate and kills it after grace.
func (c *Child) Stop(grace time.Duration) error {
	if !c.Running() {
		return nil
	}

	if grace > 0 {
		if err := terminateGroup(c.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			grace = 0
		}
	}

	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-c.done:
			return nil
		case <-timer.C:
		}
	}

	if err := killGroup(c.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill sidecar %d: %w", c.PID, err)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(stopWaitLimit):
		return ErrStopTimeout
	}
}
