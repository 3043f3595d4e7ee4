// Package rushlog provides the small structured logger shared by the
// daemon, the worker loop, and the pool health monitor.
package rushlog

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
)

// New creates a Logger that writes to w, prefixing every line with name.
func New(w io.Writer, name string) *Logger {
	return &Logger{
		std: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC),
		name: name,
	}
}

// Logger serializes access to an io.Writer and tags each line with a
// level, the calling package's name, and the caller's file:line.
type Logger struct {
	std  *log.Logger
	name string
}

func (l *Logger) Errorf(msg string, args ...interface{}) { l.logf("ERROR", msg, args...) }
func (l *Logger) Warnf(msg string, args ...interface{})  { l.logf("WARN", msg, args...) }
func (l *Logger) Infof(msg string, args ...interface{})  { l.logf("INFO", msg, args...) }

func (l *Logger) logf(level, msg string, args ...interface{}) {
	file, line := caller(3)
	l.std.Printf("[%s] %s %s:%d --- %s", level, l.name, file, line, fmt.Sprintf(msg, args...))
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???", 0
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return file, line
}
