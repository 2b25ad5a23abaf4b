// Package utils provides small shared helpers.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowThreshold flags transactions that hold the write lock long enough to
// starve other writers (SQLite allows one writer at a time).
const slowThreshold = 5 * time.Second

// OperationTimer measures the duration of an operation in a defer-friendly way.
//
// Usage:
//
//	func (s *Service) ApplyBatch(...) {
//	    defer utils.OperationTimer("apply_batch", s.log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("Operation completed")

		if duration > slowThreshold {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Msg("Slow ledger operation")
		}
	}
}
