// Package progress publishes import progress and results to the session
// channel a client listens on. Delivery is at-most-once with no replay: a
// dropped event leaves a stale progress bar, never a wrong result.
package progress

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/model"
)

// EventType distinguishes progress ticks from the terminal result.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
)

// Event is the wire form of both event types. Result events carry the batch
// result fields at the top level.
type Event struct {
	Type  EventType `json:"type"`
	Index int       `json:"index,omitempty"`
	Size  int       `json:"size,omitempty"`
	*model.BatchResult
}

// ProgressEvent builds a progress tick.
func ProgressEvent(index, size int) Event {
	return Event{Type: EventProgress, Index: index, Size: size}
}

// ResultEvent builds the terminal event.
func ResultEvent(result model.BatchResult) Event {
	return Event{Type: EventResult, BatchResult: &result}
}

// Reporter publishes events for a session. Implementations never fail the
// caller; publish errors are logged.
type Reporter interface {
	Progress(ctx context.Context, sessionID string, index, size int)
	Result(ctx context.Context, sessionID string, result model.BatchResult)
}

// LogReporter writes events to the global zap logger.
type LogReporter struct{}

func (LogReporter) Progress(_ context.Context, sessionID string, index, size int) {
	zap.L().Info("import progress",
		zap.String("session_id", sessionID),
		zap.Int("index", index),
		zap.Int("size", size),
	)
}

func (LogReporter) Result(_ context.Context, sessionID string, result model.BatchResult) {
	zap.L().Info("import complete",
		zap.String("session_id", sessionID),
		zap.Int("total_success", result.TotalSuccess),
		zap.Int("total_error", result.TotalError),
		zap.Int("total_skipped", result.TotalSkipped),
	)
}

// Multi fans events out to several reporters in order.
type Multi []Reporter

func (m Multi) Progress(ctx context.Context, sessionID string, index, size int) {
	for _, r := range m {
		r.Progress(ctx, sessionID, index, size)
	}
}

func (m Multi) Result(ctx context.Context, sessionID string, result model.BatchResult) {
	for _, r := range m {
		r.Result(ctx, sessionID, result)
	}
}
