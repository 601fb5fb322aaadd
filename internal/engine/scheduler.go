package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// loop is one independently start/stoppable periodic scheduler. Start and
// Stop are idempotent; Stop waits for an in-progress tick to finish but
// does not touch timers armed by that tick.
type loop struct {
	name     string
	interval time.Duration
	tick     func()
	log      *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoop(name string, interval time.Duration, tick func(), log *logrus.Logger) *loop {
	return &loop{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log,
	}
}

func (l *loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.log.WithFields(logrus.Fields{"loop": l.name, "interval": l.interval}).Info("scheduler loop started")

	go l.run(ctx, l.done)
}

func (l *loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.log.WithField("loop", l.name).Info("scheduler loop stopped")
}

func (l *loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
