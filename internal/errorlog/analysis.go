package errorlog

import "time"

type window struct {
	name     string
	duration time.Duration
}

var windows = []window{
	{"Last Hour", time.Hour},
	{"Last 6 Hours", 6 * time.Hour},
	{"Last 24 Hours", 24 * time.Hour},
}

// Recovery counts operations that needed at least one retry.
type Recovery struct {
	Retried   int
	Recovered int
}

// Rate is Recovered/Retried as a percentage, 0 when nothing was retried.
func (r Recovery) Rate() float64 {
	if r.Retried == 0 {
		return 0
	}
	return float64(r.Recovered) / float64(r.Retried) * 100
}

// Analysis reports critical errors, per-window category trends and the most
// frequent messages as of now.
func (l *Logger) Analysis(now time.Time, recovery Recovery) Analysis {
	out := Analysis{
		ErrorTrends:         []Trend{},
		TopErrorMessages:    []MessageCount{},
		RecoverySuccessRate: recovery.Rate(),
	}

	for _, rec := range l.entries {
		if rec.Severity == SeverityCritical && rec.Context.Timestamp.After(now.Add(-24*time.Hour)) {
			out.CriticalErrorsLast24h++
		}
	}

	for _, w := range windows {
		start := now.Add(-w.duration)
		counts := make(map[Category]int)
		for _, rec := range l.entries {
			if rec.Context.Timestamp.After(start) {
				counts[rec.Category]++
			}
		}
		for _, c := range Categories {
			if n := counts[c]; n > 0 {
				out.ErrorTrends = append(out.ErrorTrends, Trend{TimeWindow: w.name, ErrorCount: n, Category: c})
			}
		}
	}

	index := make(map[string]int)
	var counts []MessageCount
	for _, rec := range l.entries {
		msg := prefix(rec.Message, messagePrefixLen)
		i, ok := index[msg]
		if !ok {
			i = len(counts)
			index[msg] = i
			counts = append(counts, MessageCount{Message: msg})
		}
		counts[i].Count++
		if rec.Context.Timestamp.After(counts[i].LastSeen) {
			counts[i].LastSeen = rec.Context.Timestamp
		}
	}
	sortMessageCounts(counts)
	if len(counts) > topMessages {
		counts = counts[:topMessages]
	}
	out.TopErrorMessages = append(out.TopErrorMessages, counts...)
	return out
}
