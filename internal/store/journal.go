package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alucardeht/mfhost/internal/lifecycle"
)

const defaultJournalQueue = 256

// Journal writes lifecycle transitions to the store on a background
// goroutine. Record never blocks; when the queue is full the transition is
// dropped and counted.
type Journal struct {
	store *Store
	queue chan lifecycle.Transition

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

var _ lifecycle.Journal = (*Journal)(nil)

func NewJournal(s *Store, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = defaultJournalQueue
	}
	j := &Journal{
		store: s,
		queue: make(chan lifecycle.Transition, queueSize),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) Record(ctx context.Context, t lifecycle.Transition) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return
	}

	select {
	case j.queue <- t:
	default:
		j.dropped.Add(1)
		log.Warn("journal queue full, dropping transition", "module", t.ModuleID, "to", t.To)
	}
}

func (j *Journal) run() {
	for t := range j.queue {
		if err := j.store.InsertTransition(context.Background(), t); err != nil {
			log.Error("failed to write transition", "module", t.ModuleID, "error", err)
			continue
		}
		j.written.Add(1)
	}
	close(j.done)
}

// Close flushes queued transitions and stops the writer. Later records are
// ignored.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
}

type JournalStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
}

func (j *Journal) Stats() JournalStats {
	return JournalStats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
	}
}
