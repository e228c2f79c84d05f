// Package health derives the queue's composite health status.
package health

import (
	"fmt"
	"time"
)

// Status is the overall health.
type Status string

const (
	StatusHealthy  Status = "Healthy"
	StatusWarning  Status = "Warning"
	StatusDegraded Status = "Degraded"
	StatusCritical Status = "Critical"
)

// Level maps a status to a gauge value: 0 healthy up to 3 critical.
func (s Status) Level() float64 {
	switch s {
	case StatusWarning:
		return 1
	case StatusDegraded:
		return 2
	case StatusCritical:
		return 3
	default:
		return 0
	}
}

// Inputs are the readings a report is built from.
type Inputs struct {
	Now                 time.Time
	QueueDepth          int
	MaxQueueSize        int
	ProcessingCount     int
	MaxBatchSize        int
	TotalProcessed      int
	TotalFailures       int
	TotalBatches        int
	TotalProcessingTime time.Duration
	CyclesBalance       int64
	MinCyclesThreshold  int64
	MemoryUsage         int64
	MaxMemoryUsageBytes int64
}

// Report is the result of a health check.
type Report struct {
	Status                Status        `json:"status"`
	QueueDepth            int           `json:"queueDepth"`
	ProcessingRate        float64       `json:"processingRate"`
	ErrorRate             float64       `json:"errorRate"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
	MemoryUsage           int64         `json:"memoryUsage"`
	CyclesBalance         int64         `json:"cyclesBalance"`
	LastHealthCheck       time.Time     `json:"lastHealthCheck"`
	Issues                []string      `json:"issues"`
	Recommendations       []string      `json:"recommendations"`
}

// ErrorRate is terminal failures over executed operations.
func ErrorRate(failures, processed int) float64 {
	if processed == 0 {
		return 0
	}
	return float64(failures) / float64(processed)
}

// ProcessingRate is executed operations per minute of batch time.
func ProcessingRate(processed int, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / total.Minutes()
}

// Evaluate builds the report. Each check can only raise the status; a
// Critical finding always wins.
func Evaluate(in Inputs) Report {
	r := Report{
		Status:          StatusHealthy,
		QueueDepth:      in.QueueDepth,
		ProcessingRate:  ProcessingRate(in.TotalProcessed, in.TotalProcessingTime),
		ErrorRate:       ErrorRate(in.TotalFailures, in.TotalProcessed),
		MemoryUsage:     in.MemoryUsage,
		CyclesBalance:   in.CyclesBalance,
		LastHealthCheck: in.Now,
		Issues:          []string{},
		Recommendations: []string{},
	}
	if in.TotalBatches > 0 {
		r.AverageProcessingTime = in.TotalProcessingTime / time.Duration(in.TotalBatches)
	}

	warn := func(issue, rec string) {
		if r.Status != StatusCritical {
			r.Status = StatusWarning
		}
		r.add(issue, rec)
	}
	critical := func(issue, rec string) {
		r.Status = StatusCritical
		r.add(issue, rec)
	}

	if in.MaxQueueSize > 0 {
		if float64(in.QueueDepth) > float64(in.MaxQueueSize)*0.8 {
			pct := float64(in.QueueDepth) / float64(in.MaxQueueSize) * 100
			warn(fmt.Sprintf("Queue depth is at %d/%d (%.0f%%)", in.QueueDepth, in.MaxQueueSize, pct),
				"Consider increasing processing rate or queue capacity")
		}
		if in.QueueDepth >= in.MaxQueueSize {
			critical("Queue is at maximum capacity",
				"Immediate action required: increase processing or clear queue")
		}
	}

	if r.ErrorRate > 0.1 {
		warn(fmt.Sprintf("High error rate: %.1f%%", r.ErrorRate*100),
			"Investigate error causes and improve error handling")
	}
	if r.ErrorRate > 0.25 {
		critical(fmt.Sprintf("Critical error rate: %.1f%%", r.ErrorRate*100),
			"System requires immediate attention")
	}

	if in.CyclesBalance < in.MinCyclesThreshold*2 {
		warn(fmt.Sprintf("Low cycles balance: %d", in.CyclesBalance), "Top up cycles soon")
	}
	if in.CyclesBalance < in.MinCyclesThreshold {
		critical(fmt.Sprintf("Critical cycles balance: %d", in.CyclesBalance), "Immediate cycles top-up required")
	}

	if float64(in.MemoryUsage) > float64(in.MaxMemoryUsageBytes)*0.8 {
		warn(fmt.Sprintf("High memory usage: %d bytes", in.MemoryUsage), "Consider memory optimization or cleanup")
	}
	if in.MemoryUsage > in.MaxMemoryUsageBytes {
		critical(fmt.Sprintf("Memory usage exceeds limit: %d bytes", in.MemoryUsage), "Immediate memory cleanup required")
	}

	if in.ProcessingCount > in.MaxBatchSize*2 {
		if r.Status != StatusCritical {
			r.Status = StatusDegraded
		}
		r.add(fmt.Sprintf("Too many operations in processing state: %d", in.ProcessingCount),
			"Check for stuck operations or reduce batch size")
	}
	return r
}

func (r *Report) add(issue, rec string) {
	r.Issues = append(r.Issues, issue)
	r.Recommendations = append(r.Recommendations, rec)
}
