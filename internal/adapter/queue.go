package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/groutine"
	"github.com/srg/bleadv/pkg/codec"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State of a Scheduler.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const drainPoll = 100 * time.Millisecond

type logicalQueue struct {
	items  []QueueItem
	unlock *time.Timer
}

func (q *logicalQueue) locked() bool { return q.unlock != nil }

// Scheduler multiplexes logical queues onto one transport, round robin,
// honouring per queue delays between consecutive items.
type Scheduler struct {
	name      string
	transport Transport
	onError   func(error)
	logger    *logrus.Logger
	metrics   *Metrics

	state atomic.Int32

	mu       sync.Mutex
	queues   *orderedmap.OrderedMap[string, *logicalQueue]
	cursor   string
	inFlight bool
	wake     chan struct{}
	stop     chan struct{}
}

// NewScheduler creates a closed scheduler. onError receives transmission
// failures and recovered panics; it may be nil.
func NewScheduler(name string, t Transport, onError func(error), logger *logrus.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Scheduler{
		name:      name,
		transport: t,
		onError:   onError,
		logger:    logger,
		metrics:   metrics,
		queues:    orderedmap.New[string, *logicalQueue](),
		wake:      make(chan struct{}, 1),
	}
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) Available() bool { return s.State() == StateOpen }

// Init opens the transport and starts the dequeue goroutine. Calling it on
// an open scheduler does nothing.
func (s *Scheduler) Init(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateClosed), int32(StateOpening)) {
		return nil
	}
	if err := s.transport.Open(ctx); err != nil {
		s.state.Store(int32(StateClosed))
		return wrap(s.name, "open", err)
	}

	s.mu.Lock()
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.state.Store(int32(StateOpen))
	groutine.Go(context.WithoutCancel(ctx), "dequeue-"+s.name, func(ctx context.Context) {
		s.dequeueLoop(ctx, stop)
	})
	s.signal()
	s.logger.WithField("adapter", s.name).Info("Adapter connected")
	return nil
}

// Enqueue adds item to the logical queue queueID, replacing any pending
// item with the same key.
func (s *Scheduler) Enqueue(queueID string, item QueueItem) {
	s.mu.Lock()
	q, ok := s.queues.Get(queueID)
	if !ok {
		q = &logicalQueue{}
		s.queues.Set(queueID, q)
	}
	kept := q.items[:0]
	for _, it := range q.items {
		if it.Key != item.Key {
			kept = append(kept, it)
		}
	}
	q.items = append(kept, item)
	s.updateDepth()
	s.mu.Unlock()

	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// updateDepth must be called with mu held.
func (s *Scheduler) updateDepth() {
	n := 0
	for pair := s.queues.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value.items)
	}
	s.metrics.Queued.WithLabelValues(s.name).Set(float64(n))
}

// next picks the item to transmit, advancing the round robin cursor by
// one queue per inspection.
func (s *Scheduler) next() (item QueueItem, queueID string, lockFor time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := s.queues.GetPair(s.cursor)
	for range s.queues.Len() {
		if pair == nil || pair.Next() == nil {
			pair = s.queues.Oldest()
		} else {
			pair = pair.Next()
		}
		s.cursor = pair.Key
		q := pair.Value
		if q.locked() || len(q.items) == 0 {
			continue
		}
		item = q.items[0]
		if item.Repeat > 1 {
			q.items[0].Repeat--
		} else {
			q.items = q.items[1:]
			lockFor = item.DelayAfter
		}
		s.inFlight = true
		s.updateDepth()
		return item, pair.Key, lockFor, true
	}
	return item, "", 0, false
}

func (s *Scheduler) dequeueLoop(ctx context.Context, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.wake:
		}
		// A wake may belong to the loop started by a later Init.
		select {
		case <-stop:
			s.signal()
			return
		default:
		}
		item, queueID, lockFor, ok := s.next()
		if !ok {
			continue
		}
		s.transmit(ctx, queueID, item)

		s.mu.Lock()
		s.inFlight = false
		if q, exists := s.queues.Get(queueID); exists && lockFor > 0 && s.Available() {
			q.unlock = time.AfterFunc(lockFor, func() {
				s.mu.Lock()
				q.unlock = nil
				s.mu.Unlock()
				s.signal()
			})
		}
		s.mu.Unlock()
		s.signal()
	}
}

func (s *Scheduler) transmit(ctx context.Context, queueID string, item QueueItem) {
	log := s.logger.WithFields(logrus.Fields{"adapter": s.name, "queue": queueID, "data": codec.Hex(item.Data)})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Error("Panic while advertising")
			s.fail(fmt.Errorf("%w: panic in dequeue: %v", ErrUnavailable, r))
		}
	}()

	log.Debug("Advertising")
	ctx, cancel := context.WithTimeout(ctx, MaxAdvWait)
	defer cancel()
	if err := s.transport.Advertise(ctx, item.Interval, item.Data); err != nil {
		if errors.Is(err, ErrDataTooLong) {
			log.WithError(err).Warn("Advertisement dropped")
			s.metrics.Failures.WithLabelValues(s.name).Inc()
			return
		}
		log.WithError(err).Warn("Advertising failed")
		s.fail(wrap(s.name, "advertise", err))
		return
	}
	s.metrics.Advertised.WithLabelValues(s.name).Inc()
	log.Debug("End advertising")
}

func (s *Scheduler) fail(err error) {
	s.metrics.Failures.WithLabelValues(s.name).Inc()
	if s.onError != nil {
		s.onError(err)
	}
}

// idle reports whether nothing is queued, transmitting or delayed.
func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	for pair := s.queues.Oldest(); pair != nil; pair = pair.Next() {
		if len(pair.Value.items) > 0 || pair.Value.locked() {
			return false
		}
	}
	return true
}

// Drain waits until every queued item was transmitted and every delay
// elapsed.
func (s *Scheduler) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for !s.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Final stops processing, drops every queue and closes the transport.
// The dequeue goroutine exits after the transmission in progress.
func (s *Scheduler) Final() {
	prev := State(s.state.Swap(int32(StateClosed)))

	s.mu.Lock()
	for pair := s.queues.Oldest(); pair != nil; pair = pair.Next() {
		if t := pair.Value.unlock; t != nil {
			t.Stop()
		}
	}
	s.queues = orderedmap.New[string, *logicalQueue]()
	s.cursor = ""
	s.updateDepth()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.signal()

	if prev != StateClosed {
		if err := s.transport.Close(); err != nil {
			s.logger.WithError(err).WithField("adapter", s.name).Debug("Close failed")
		}
		s.logger.WithField("adapter", s.name).Info("Adapter disconnected")
	}
}
