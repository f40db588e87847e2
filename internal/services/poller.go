package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/store"
)

const pollWorkers = 5

// Poller periodically sweeps non-terminal video tasks through the
// synchronizer so results land without the client asking.
type Poller struct {
	store    store.Store
	syncer   *Synchronizer
	interval time.Duration
	stopChan chan struct{}

	running  sync.Mutex // held while a sweep is in progress
	mu       sync.Mutex
	inFlight map[string]bool
}

func NewPoller(s store.Store, syncer *Synchronizer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:    s,
		syncer:   syncer,
		interval: interval,
		stopChan: make(chan struct{}),
		inFlight: make(map[string]bool),
	}
}

// Start begins the polling loop in a background goroutine
func (p *Poller) Start() {
	log.Printf("Poller: service started (interval: %s)", p.interval)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-p.stopChan:
				log.Println("Poller: service stopped")
				return
			}
		}
	}()
}

// Stop halts the polling loop
func (p *Poller) Stop() {
	close(p.stopChan)
}

// sweep syncs every pending video task once. Overlapping sweeps are skipped
// rather than stacked.
func (p *Poller) sweep() {
	if !p.running.TryLock() {
		log.Println("Poller: previous sweep still running, skipping")
		return
	}
	defer p.running.Unlock()

	ctx := context.Background()
	tasks, err := p.store.ListTasks(ctx, store.TaskFilter{
		TaskType: models.TaskTypeVideo,
		Statuses: []string{models.StatusQueued, models.StatusRunning},
	})
	if err != nil {
		log.Printf("Poller: failed to list pending tasks: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	sem := make(chan struct{}, pollWorkers)
	var wg sync.WaitGroup
	for _, task := range tasks {
		if !p.claim(task.TaskID) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(taskID string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer p.release(taskID)

			if _, err := p.syncer.Sync(ctx, taskID); err != nil {
				log.Printf("Poller: sync failed for task %s: %v", taskID, err)
			}
		}(task.TaskID)
	}
	wg.Wait()
}

func (p *Poller) claim(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[taskID] {
		return false
	}
	p.inFlight[taskID] = true
	return true
}

func (p *Poller) release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, taskID)
}
