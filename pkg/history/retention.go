package history

import (
	"log"
	"sync"
	"time"
)

// RetentionSweeper periodically deletes terminal job records older than the
// retention age so history does not grow without bound. Active jobs are
// never purged regardless of age.
type RetentionSweeper struct {
	store    Store
	age      time.Duration
	interval time.Duration
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRetentionSweeper creates a sweeper over the store
func NewRetentionSweeper(store Store, age, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		store:    store,
		age:      age,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. The first sweep happens
// immediately so a long-stopped instance catches up on startup.
func (s *RetentionSweeper) Start() {
	log.Printf("History retention sweeper started: purging terminal records older than %s every %s", s.age, s.interval)
	go s.loop()
}

func (s *RetentionSweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one purge pass
func (s *RetentionSweeper) sweep() {
	purged, err := s.store.PurgeOldJobs(s.age)
	if err != nil {
		log.Printf("History retention sweep failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("History retention: purged %d job records older than %s", purged, s.age)
	}
}

// Stop halts the sweep loop and waits for it to exit
func (s *RetentionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
