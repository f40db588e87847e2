package services

import (
	"context"
	"log"
	"time"

	"github.com/genstudio/backend/internal/store"
)

// RetentionService prunes daily usage rows past their retention window. Old
// counters are only needed for reporting, never for quota decisions.
type RetentionService struct {
	store         store.Store
	retentionDays int
	loc           *time.Location
	stopChan      chan struct{}
}

func NewRetentionService(s store.Store, retentionDays int, loc *time.Location) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RetentionService{
		store:         s,
		retentionDays: retentionDays,
		loc:           loc,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the pruning loop in a background goroutine
func (s *RetentionService) Start() {
	log.Printf("RetentionService started, pruning usage older than %d days", s.retentionDays)

	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()

		s.prune()

		for {
			select {
			case <-s.stopChan:
				log.Println("RetentionService stopped")
				return
			case <-ticker.C:
				s.prune()
			}
		}
	}()
}

// Stop halts the pruning loop
func (s *RetentionService) Stop() {
	close(s.stopChan)
}

func (s *RetentionService) prune() {
	cutoff := time.Now().In(s.loc).AddDate(0, 0, -s.retentionDays).Format("2006-01-02")
	removed, err := s.store.PruneUsageBefore(context.Background(), cutoff)
	if err != nil {
		log.Printf("RetentionService: prune failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("RetentionService: pruned %d usage rows older than %s", removed, cutoff)
	}
}
