package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	std     = log.New(os.Stderr, "", log.LstdFlags)
	logFile *os.File
	debug   bool
)

// InitLogging configures the package-level logger. If path is non-empty the
// log is written to that file, otherwise it stays on stderr. Debug enables
// Debugf output.
func InitLogging(enableDebug bool, path string) error {
	mu.Lock()
	defer mu.Unlock()

	debug = enableDebug

	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	std.SetOutput(f)

	return nil
}

// SetOutput redirects log output, mainly so the progress renderer can route
// log lines around the live terminal rows.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// Close releases the log file if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		std.SetOutput(os.Stderr)
		logFile.Close()
		logFile = nil
	}
}

func Debugf(format string, args ...any) {
	mu.Lock()
	enabled := debug
	mu.Unlock()

	if enabled {
		std.Printf("DEBUG: "+format, args...)
	}
}

func Infof(format string, args ...any) {
	std.Printf("INFO: "+format, args...)
}

func Warnf(format string, args ...any) {
	std.Printf("WARN: "+format, args...)
}

func Errorf(format string, args ...any) {
	std.Printf("ERROR: "+format, args...)
}
