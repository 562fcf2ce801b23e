package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Stream names used for sidecar output.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// SidecarSink receives the backend's output lines. Stdout is logged at
// info, stderr at warning. When a directory is configured every line is
// also appended to <dir>/<name>.log as a JSON record with its stream.
type SidecarSink struct {
	log  Logger
	name string

	mu      sync.Mutex
	file    *os.File
	fileLog zerolog.Logger
}

func NewSidecarSink(log Logger, name, dir string) (*SidecarSink, error) {
	sink := &SidecarSink{log: log, name: name}
	if dir == "" {
		return sink, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sidecar log: %w", err)
	}
	sink.file = f
	sink.fileLog = zerolog.New(f).With().Timestamp().Str("sidecar", name).Logger()
	return sink, nil
}

func (s *SidecarSink) Line(stream, line string) {
	fields := map[string]interface{}{
		"sidecar": s.name,
		"stream":  stream,
	}
	if stream == StreamStderr {
		s.log.Warning("sidecar", line, fields)
	} else {
		s.log.Info("sidecar", line, fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	event := s.fileLog.Info()
	if stream == StreamStderr {
		event = s.fileLog.Warn()
	}
	event.Str("stream", stream).Msg(line)
}

// Path returns the log file path, or "" when output only goes to the logger.
func (s *SidecarSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *SidecarSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
