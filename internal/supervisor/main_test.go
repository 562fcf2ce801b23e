package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"locus-desktop/internal/logger"
	"locus-desktop/internal/sidecar"
)

const helperEnv = "LOCUS_SUPERVISOR_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		switch mode {
		case "serve":
			fmt.Println("ready")
			time.Sleep(time.Minute)
			os.Exit(0)
		case "flood":
			for {
				fmt.Println("GET /health 200 OK")
			}
		case "crash":
			fmt.Fprintln(os.Stderr, "fatal: cannot open locus.db")
			os.Exit(1)
		}
		os.Exit(99)
	}
	os.Exit(m.Run())
}

func helperCommand(mode string) *sidecar.Command {
	return &sidecar.Command{
		Name: "locus-backend",
		Path: os.Args[0],
		Env:  map[string]string{helperEnv: mode},
	}
}

func helperSpawner(mode string, count *atomic.Int32) Spawner {
	return func(ctx context.Context) (*sidecar.Child, error) {
		count.Add(1)
		return sidecar.Spawn(ctx, helperCommand(mode))
	}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Line(stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, stream+":"+line)
}

func (r *lineRecorder) has(entry string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l == entry {
			return true
		}
	}
	return false
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.states); n > 0 && r.states[n-1] == st.State {
		return
	}
	r.states = append(r.states, st.State)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// delayRecorder is a logger that keeps the delay of every scheduled restart.
type delayRecorder struct {
	mu     sync.Mutex
	delays []string
}

func (r *delayRecorder) Info(_, message string, fields map[string]interface{}) {
	if message != "restart scheduled" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, fields["delay"].(string))
}

func (r *delayRecorder) Debug(string, string, map[string]interface{})   {}
func (r *delayRecorder) Warning(string, string, map[string]interface{}) {}
func (r *delayRecorder) Error(string, error, map[string]interface{})    {}

func (r *delayRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delays...)
}

var _ logger.Logger = (*delayRecorder)(nil)
