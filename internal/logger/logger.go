// Package logger implements the process-wide structured log sink.
//
// A single consumer goroutine owns the terminal and prints records in
// arrival order; producers hold a cheap, cloneable Logger handle and
// never touch the terminal directly.
package logger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gcolor "github.com/labstack/gommon/color"
)

// Level categorizes a log record for color and routing purposes.
type Level int

const (
	Info Level = iota
	Success
	Error
	Warning
	Debug
)

func (l Level) label() string {
	switch l {
	case Info:
		return "info "
	case Success:
		return "ok   "
	case Error:
		return "error"
	case Warning:
		return "warn "
	case Debug:
		return "debug"
	default:
		return "?    "
	}
}

func (l Level) colorize(s string) string {
	switch l {
	case Info:
		return gcolor.White(s)
	case Success:
		return gcolor.Green(s)
	case Error:
		return gcolor.Red(s)
	case Warning:
		return gcolor.Yellow(s)
	case Debug:
		return gcolor.Magenta(s, "b")
	default:
		return s
	}
}

// ErrLoggerClosed is returned by the logging methods (Info, Success,
// Error, Warn, Debug) when the consumer goroutine has already stopped.
var ErrLoggerClosed = errors.New("logger: consumer closed")

// record is one categorized log line.
type record struct {
	from    string
	message string
	level   Level
}

// Logger is a cheap, cloneable producer handle. The zero value is not
// usable; obtain one from Start or by cloning an existing Logger.
type Logger struct {
	records chan record
	closed  *closedFlag
}

type closedFlag struct {
	mu     sync.Mutex
	closed bool
}

func (c *closedFlag) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *closedFlag) set() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Sink owns the consumer goroutine. Stop it once, during process
// shutdown, to drain and release the terminal.
type Sink struct {
	logger   Logger
	stopOnce sync.Once
	done     chan struct{}
}

// Start spawns the consumer goroutine and returns the owning Sink.
// Call Sink.Logger to obtain producer handles.
func Start(bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	s := &Sink{
		logger: Logger{
			records: make(chan record, bufferSize),
			closed:  &closedFlag{},
		},
		done: make(chan struct{}),
	}

	go s.run()

	s.logger.Info("logger", "Starting...")
	s.logger.Success("logger", "Started successfully")

	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for rec := range s.logger.records {
		print(rec)
	}
}

// Logger returns a clone of the sink's producer handle.
func (s *Sink) Logger() Logger {
	return s.logger
}

// Stop closes the record channel and waits for the consumer to drain
// it. Safe to call multiple times; only the first call has effect.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.closed.set()
		close(s.logger.records)
		<-s.done
	})
}

func print(r record) {
	line := fmt.Sprintf("[%s %s] %s %s",
		time.Now().Format("2006-01-02 15:04:05.000"), r.level.label(), r.from, r.message)
	fmt.Println(r.level.colorize(line))
}

func (l Logger) log(level Level, from, message string) (err error) {
	if l.closed == nil || l.records == nil {
		return ErrLoggerClosed
	}
	if l.closed.isClosed() {
		return ErrLoggerClosed
	}

	defer func() {
		// A send can race a concurrent Stop() closing the channel;
		// recover turns that into the documented error instead of a
		// panic reaching the caller.
		if recover() != nil {
			err = ErrLoggerClosed
		}
	}()

	l.records <- record{from: from, message: message, level: level}
	return nil
}

// Info logs an informational record.
func (l Logger) Info(from, format string, args ...interface{}) error {
	return l.log(Info, from, fmt.Sprintf(format, args...))
}

// Success logs a record marking successful completion of some unit of work.
func (l Logger) Success(from, format string, args ...interface{}) error {
	return l.log(Success, from, fmt.Sprintf(format, args...))
}

// Error logs an error record.
func (l Logger) Error(from, format string, args ...interface{}) error {
	return l.log(Error, from, fmt.Sprintf(format, args...))
}

// Warn logs a warning record.
func (l Logger) Warn(from, format string, args ...interface{}) error {
	return l.log(Warning, from, fmt.Sprintf(format, args...))
}

// Debug logs a debug record.
func (l Logger) Debug(from, format string, args ...interface{}) error {
	return l.log(Debug, from, fmt.Sprintf(format, args...))
}
