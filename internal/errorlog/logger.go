package errorlog

import (
	"container/list"
	"log/slog"
	"sort"
	"time"
)

const (
	// DefaultCapacity is the number of records kept in the log.
	DefaultCapacity = 200

	// PatternThreshold is the frequency above which a pattern is reported.
	PatternThreshold = 5

	// MaxPatterns bounds the number of tracked patterns.
	MaxPatterns = 500

	patternPrefixLen = 50
	messagePrefixLen = 100
	topMessages      = 5
	recentErrors     = 10
)

// Sink receives every logged record. Implementations must not block.
type Sink interface {
	RecordError(rec Record)
}

// Observer is notified of every logged record.
type Observer interface {
	ObserveError(category Category, severity Severity)
}

// Logger is a bounded error log with counters and pattern detection.
// It is not safe for concurrent use.
type Logger struct {
	capacity   int
	entries    []Record
	total      int
	byCategory map[Category]int
	bySeverity map[Severity]int

	patterns map[string]*list.Element
	lru      *list.List

	sink     Sink
	observer Observer
	log      *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink forwards every record to s.
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sink = s }
}

// WithObserver reports every record to o.
func WithObserver(o Observer) Option {
	return func(l *Logger) { l.observer = o }
}

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// NewLogger creates an empty Logger writing diagnostics to log.
func NewLogger(log *slog.Logger, opts ...Option) *Logger {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{capacity: DefaultCapacity, log: log}
	for _, opt := range opts {
		opt(l)
	}
	l.Reset()
	return l
}

// Log stores rec and returns it as stored. UnknownError records whose
// pattern already recurred beyond PatternThreshold are stored as Critical.
func (l *Logger) Log(rec Record) Record {
	key := patternKey(rec)
	if rec.Category == CategoryUnknown {
		if el, ok := l.patterns[key]; ok && el.Value.(*Pattern).Frequency > PatternThreshold {
			rec.Severity = SeverityCritical
		}
	}

	l.entries = append(l.entries, rec)
	if len(l.entries) > l.capacity {
		drop := len(l.entries) - l.capacity
		copy(l.entries, l.entries[drop:])
		l.entries = l.entries[:l.capacity]
	}
	l.total++
	l.byCategory[rec.Category]++
	l.bySeverity[rec.Severity]++

	p := l.touchPattern(key, rec)

	l.log.Debug("error logged",
		"category", rec.Category,
		"severity", rec.Severity,
		"operation_id", rec.Context.OperationID,
		"operation_type", rec.Context.OperationType,
		"retry_count", rec.Context.RetryCount,
		"recoverable", rec.Recoverable,
		"correlation_id", rec.Debug.CorrelationID,
		"message", rec.Message,
	)
	if rec.Severity == SeverityCritical {
		l.log.Error("critical error detected",
			"operation_id", rec.Context.OperationID,
			"correlation_id", rec.Debug.CorrelationID,
			"action", rec.SuggestedAction,
			"message", rec.Message,
		)
	}
	if p.Frequency > PatternThreshold {
		l.log.Warn("error pattern detected",
			"pattern", p.Key,
			"frequency", p.Frequency,
			"last_occurrence", p.LastSeen,
			"severity", p.Severity,
		)
	}

	if l.observer != nil {
		l.observer.ObserveError(rec.Category, rec.Severity)
	}
	if l.sink != nil {
		l.sink.RecordError(rec)
	}
	return rec
}

func (l *Logger) touchPattern(key string, rec Record) *Pattern {
	if el, ok := l.patterns[key]; ok {
		p := el.Value.(*Pattern)
		p.Frequency++
		p.LastSeen = rec.Context.Timestamp
		p.Severity = rec.Severity
		l.lru.MoveToFront(el)
		return p
	}
	if l.lru.Len() >= MaxPatterns {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.patterns, oldest.Value.(*Pattern).Key)
	}
	p := &Pattern{Key: key, Frequency: 1, LastSeen: rec.Context.Timestamp, Severity: rec.Severity}
	l.patterns[key] = l.lru.PushFront(p)
	return p
}

func patternKey(rec Record) string {
	return string(rec.Category) + "_" + prefix(rec.Message, patternPrefixLen)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Len returns the number of stored records.
func (l *Logger) Len() int { return len(l.entries) }

// Logs returns the stored records, newest first.
func (l *Logger) Logs() []Record {
	out := make([]Record, len(l.entries))
	for i, rec := range l.entries {
		out[len(l.entries)-1-i] = rec
	}
	return out
}

// Patterns returns tracked patterns, most recently seen first.
func (l *Logger) Patterns() []Pattern {
	out := make([]Pattern, 0, l.lru.Len())
	for el := l.lru.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Pattern))
	}
	return out
}

// HealthScore is max(0, 100 - 20*critical - 2*total) over the last 24 hours.
func (l *Logger) HealthScore(now time.Time) int {
	critical, total := 0, 0
	for _, rec := range l.entries {
		if now.Sub(rec.Context.Timestamp) >= 24*time.Hour {
			continue
		}
		total++
		if rec.Severity == SeverityCritical {
			critical++
		}
	}
	return max(0, 100-20*critical-2*total)
}

// Statistics summarizes the log at now.
func (l *Logger) Statistics(now time.Time) Statistics {
	byCategory := make(map[Category]int, len(l.byCategory))
	for k, v := range l.byCategory {
		byCategory[k] = v
	}
	bySeverity := make(map[Severity]int, len(l.bySeverity))
	for k, v := range l.bySeverity {
		bySeverity[k] = v
	}
	start := max(0, len(l.entries)-recentErrors)
	recent := append([]Record(nil), l.entries[start:]...)

	return Statistics{
		TotalErrors:       l.total,
		ErrorsByCategory:  byCategory,
		ErrorsBySeverity:  bySeverity,
		RecentErrors:      recent,
		ErrorPatterns:     l.Patterns(),
		SystemHealthScore: l.HealthScore(now),
	}
}

// Reset clears records, counters and patterns.
func (l *Logger) Reset() {
	l.entries = nil
	l.total = 0
	l.byCategory = make(map[Category]int)
	l.bySeverity = make(map[Severity]int)
	l.patterns = make(map[string]*list.Element)
	l.lru = list.New()
}

func sortMessageCounts(counts []MessageCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
}
