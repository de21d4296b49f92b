package store

import (
	"log/slog"
	"time"
)

// Outcome classifies how a store operation ended, for metrics.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNotFound Outcome = "not_found"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// OpRecorder receives one record per store operation. Implementations must
// be safe for concurrent use and must not block - the store calls Record
// inline on the request path.
type OpRecorder interface {
	Record(op string, latency time.Duration, outcome Outcome)
}

// nopRecorder is the default sink when no recorder is configured.
type nopRecorder struct{}

func (nopRecorder) Record(string, time.Duration, Outcome) {}

// observe records latency/outcome for an operation and emits a performance
// alert when the latency threshold is exceeded or the store itself failed.
func (s *Store) observe(op string, start time.Time, err error) {
	latency := time.Since(start)
	outcome := classify(err)
	s.recorder.Record(op, latency, outcome)

	if latency > s.slowThreshold {
		s.logger.Warn("store operation exceeded latency threshold",
			"op", op,
			"latency", latency,
			"threshold", s.slowThreshold,
			"outcome", outcome)
	} else if outcome == OutcomeError {
		s.logger.Warn("store operation failed",
			"op", op,
			"latency", latency,
			"error", err)
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case isNotFoundErr(err):
		return OutcomeNotFound
	case isConflictErr(err):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// LoggingRecorder logs every operation at debug level. Useful as a
// lightweight default observability sink in the CLI.
type LoggingRecorder struct {
	Logger *slog.Logger
}

func (r *LoggingRecorder) Record(op string, latency time.Duration, outcome Outcome) {
	r.Logger.Debug("store op", "op", op, "latency", latency, "outcome", outcome)
}
