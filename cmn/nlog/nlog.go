// Package nlog is the client-side logger used throughout crazyflie-lib-go.
//
// It keeps the call shape of the teacher's daemon logger (severity-leveled
// Infof/Warningf/Errorf, depth-aware caller reporting) but drops the
// file-rotation/flush machinery: a library sharing a caller's process has
// no daemon log directory to rotate, so every line is written straight
// through a small mutex-guarded writer.
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

type logger struct {
	mu  sync.Mutex
	out io.Writer
	// Threshold below which Infof/Warningf calls are dropped. Errorf
	// always writes.
	level severity
}

var std = &logger{out: os.Stderr, level: sevInfo}

// SetOutput redirects all subsequent log lines. Safe to call concurrently
// with logging goroutines; takes effect for the next line written.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

// SetQuiet drops Info/Warning lines, keeping only Errorf. Useful for
// embedding the client in an application that has its own logging.
func SetQuiet(quiet bool) {
	std.mu.Lock()
	if quiet {
		std.level = sevErr
	} else {
		std.level = sevInfo
	}
	std.mu.Unlock()
}

func Infof(format string, args ...any)    { std.logf(sevInfo, 1, format, args...) }
func Infoln(args ...any)                  { std.logln(sevInfo, 1, args...) }
func Warningf(format string, args ...any) { std.logf(sevWarn, 1, format, args...) }
func Warningln(args ...any)               { std.logln(sevWarn, 1, args...) }
func Errorf(format string, args ...any)   { std.logf(sevErr, 1, format, args...) }
func Errorln(args ...any)                 { std.logln(sevErr, 1, args...) }

func (l *logger) logf(sev severity, depth int, format string, args ...any) {
	if sev < l.level {
		return
	}
	l.write(sev, depth+1, fmt.Sprintf(format, args...))
}

func (l *logger) logln(sev severity, depth int, args ...any) {
	if sev < l.level {
		return
	}
	l.write(sev, depth+1, fmt.Sprintln(args...))
}

func (l *logger) write(sev severity, depth int, msg string) {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if idx := strings.LastIndexByte(file, filepath.Separator); idx >= 0 {
			file = file[idx+1:]
		}
		b.WriteString(file)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(line))
		b.WriteByte(' ')
	}
	b.WriteString(strings.TrimSuffix(msg, "\n"))
	b.WriteByte('\n')

	l.mu.Lock()
	io.WriteString(l.out, b.String())
	l.mu.Unlock()
}
