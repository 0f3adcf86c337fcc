// Package audit is the daemon's audit sink. Every lifecycle decision a
// connector handler or supervisor makes is written here with a catalogued
// message id, independent of debug logging.
package audit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log receives audit messages. Implementations must not block callers for
// long and must never fail them.
type Log interface {
	LogMessage(action string, msg Message, fields ...zap.Field)
	LogError(action string, msg Message, err error, fields ...zap.Field)
}

// Message fills the definition's template with args
func (d Definition) Message(args ...interface{}) Message {
	return Message{
		ID:       d.ID,
		Severity: d.Severity,
		Text:     fmt.Sprintf(d.Text, args...),
	}
}

// ZapLog writes audit messages to a zap logger
type ZapLog struct {
	logger *zap.Logger
}

// NewZapLog creates an audit log on top of l
func NewZapLog(l *zap.Logger) *ZapLog {
	return &ZapLog{logger: l.With(zap.String("component", "audit"))}
}

// LogMessage implements Log
func (z *ZapLog) LogMessage(action string, msg Message, fields ...zap.Field) {
	fields = append(fields,
		zap.String("message_id", msg.ID),
		zap.String("severity", string(msg.Severity)),
		zap.String("action", action),
	)

	switch msg.Severity {
	case SeverityError:
		z.logger.Error(msg.Text, fields...)
	case SeverityWarning:
		z.logger.Warn(msg.Text, fields...)
	default:
		z.logger.Info(msg.Text, fields...)
	}
}

// LogError implements Log
func (z *ZapLog) LogError(action string, msg Message, err error, fields ...zap.Field) {
	z.LogMessage(action, msg, append(fields, zap.Error(err))...)
}

// Entry is one recorded audit message
type Entry struct {
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	ID       string    `json:"message_id"`
	Severity Severity  `json:"severity"`
	Text     string    `json:"text"`
	Error    string    `json:"error,omitempty"`
}

// Recorder keeps the most recent audit entries in memory and forwards every
// message to an optional next Log.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	next    Log
}

// NewRecorder keeps up to limit entries; limit <= 0 keeps everything
func NewRecorder(limit int, next Log) *Recorder {
	return &Recorder{limit: limit, next: next}
}

// LogMessage implements Log
func (r *Recorder) LogMessage(action string, msg Message, fields ...zap.Field) {
	r.record(action, msg, nil)
	if r.next != nil {
		r.next.LogMessage(action, msg, fields...)
	}
}

// LogError implements Log
func (r *Recorder) LogError(action string, msg Message, err error, fields ...zap.Field) {
	r.record(action, msg, err)
	if r.next != nil {
		r.next.LogError(action, msg, err, fields...)
	}
}

func (r *Recorder) record(action string, msg Message, err error) {
	e := Entry{
		Time:     time.Now().UTC(),
		Action:   action,
		ID:       msg.ID,
		Severity: msg.Severity,
		Text:     msg.Text,
	}
	if err != nil {
		e.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if r.limit > 0 && len(r.entries) > r.limit {
		r.entries = append([]Entry(nil), r.entries[len(r.entries)-r.limit:]...)
	}
}

// Entries returns a copy of the recorded entries, oldest first
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many recorded entries carry the given message id
func (r *Recorder) Count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.ID == id {
			n++
		}
	}
	return n
}
