package jobs

import (
	"context"
	"log"
	"time"
)

// JobPurger removes terminal upload jobs older than the retention window.
type JobPurger interface {
	PurgeTerminal(olderThan time.Duration) int
}

// RetentionSweeper purges terminal upload jobs so their state and progress
// streams do not accumulate forever. Late progress subscribers can still catch
// the terminal event within the retention window.
type RetentionSweeper struct {
	purger    JobPurger
	retention time.Duration
}

// NewRetentionSweeper creates a sweeper that purges jobs terminal for longer
// than retention.
func NewRetentionSweeper(purger JobPurger, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		purger:    purger,
		retention: retention,
	}
}

// ProcessJobs implements the JobProcessor interface
func (s *RetentionSweeper) ProcessJobs(ctx context.Context) error {
	if n := s.purger.PurgeTerminal(s.retention); n > 0 {
		log.Printf("Purged %d terminal upload jobs", n)
	}
	return nil
}
