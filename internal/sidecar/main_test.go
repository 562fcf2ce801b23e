package sidecar

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

const helperEnv = "LOCUS_SIDECAR_HELPER"

// TestMain turns the test binary into a fake backend when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "echo":
		fmt.Println("LOCUS System Starting...")
		fmt.Fprintln(os.Stderr, "GC Service Started...")
		fmt.Println("instance=" + os.Getenv("LOCUS_INSTANCE_ID"))
		return 0
	case "exit3":
		fmt.Fprintln(os.Stderr, "database locked")
		return 3
	case "serve":
		fmt.Println("ready")
		time.Sleep(time.Minute)
		return 0
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Minute)
		return 0
	case "orphan":
		// a worker that inherits stdout and outlives this process
		worker := exec.Command(os.Args[0])
		worker.Env = append(os.Environ(), helperEnv+"=serve")
		worker.Stdout = os.Stdout
		worker.Stderr = os.Stderr
		if err := worker.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("worker=%d\n", worker.Process.Pid)
		time.Sleep(time.Minute)
		return 0
	case "flood":
		for i := 0; i < 2000; i++ {
			fmt.Printf("line %d\n", i)
		}
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
	return 99
}

func helperCommand(mode string) *Command {
	return &Command{
		Name: "locus-backend",
		Path: os.Args[0],
		Env:  map[string]string{helperEnv: mode},
	}
}
