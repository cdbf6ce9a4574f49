package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/stock"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetLevel(level)
	logger.SetOutput(out)
	return logger, nil
}

// LogError writes one structured error entry.
func LogError(logger logrus.FieldLogger, moduleName string, funcName string, context string, data any, err error) {
	if logger == nil || err == nil {
		return
	}
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}

// =============================================================================
// ERROR LOG HOOK
// =============================================================================

// ErrorLogHook copies error-level entries to a stock.ErrorLog.
//
// Entries are queued and written by one background goroutine, so Fire never
// waits on the store. When the queue is full the entry is dropped; when the
// sink fails the failure goes to stderr.
type ErrorLogHook struct {
	sink    stock.ErrorLog
	queue   chan stock.ErrorLogEntry
	timeout time.Duration
	stderr  io.Writer

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewErrorLogHook starts the writer goroutine. Call Close on shutdown.
func NewErrorLogHook(sink stock.ErrorLog, buffer int) *ErrorLogHook {
	if buffer <= 0 {
		buffer = 256
	}
	h := &ErrorLogHook{
		sink:    sink,
		queue:   make(chan stock.ErrorLogEntry, buffer),
		timeout: 5 * time.Second,
		stderr:  os.Stderr,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *ErrorLogHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *ErrorLogHook) Fire(entry *logrus.Entry) error {
	fields := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	e := stock.ErrorLogEntry{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case h.queue <- e:
	default:
		fmt.Fprintf(h.stderr, "error log queue full, dropping: %s\n", e.Message)
	}
	return nil
}

func (h *ErrorLogHook) run() {
	defer close(h.done)
	for e := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		if err := h.sink.SaveErrorLog(ctx, e); err != nil {
			fmt.Fprintf(h.stderr, "failed to persist error log: %v\n", err)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (h *ErrorLogHook) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	<-h.done
}
