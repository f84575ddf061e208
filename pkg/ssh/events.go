package ssh

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is an optional observability hook the Controller calls into.
// pkg/metrics supplies a Prometheus-backed implementation; tests and
// simple callers may leave it nil, in which case every call is a no-op.
type Metrics interface {
	RequestAttempt()
	RequestRetry()
	RequestTimeout()
	RequestSuccess()
	EventDispatched(rqid uint16)
	EventDropped(rqid uint16)
}

type noopMetrics struct{}

func (noopMetrics) RequestAttempt()        {}
func (noopMetrics) RequestRetry()          {}
func (noopMetrics) RequestTimeout()        {}
func (noopMetrics) RequestSuccess()        {}
func (noopMetrics) EventDispatched(uint16) {}
func (noopMetrics) EventDropped(uint16)    {}

// drainBarrier is a rendezvous across every worker of one queue: each
// worker checks in and then holds until all have, so no worker can still
// be running work enqueued before the drain began once drain returns.
type drainBarrier struct {
	arrived sync.WaitGroup
	release chan struct{}
}

// eventWork is the refcounted unit of work shared between the ack queue
// worker and the event queue worker. barrier, when set, marks a drain
// rendezvous rather than real work.
type eventWork struct {
	refcount int32
	seq      uint8
	event    Event
	delay    time.Duration
	barrier  *drainBarrier
}

// eventDispatcher fans inbound event frames out to their handlers: an ack
// queue with exactly one worker (strict ordering) and an event queue that
// may run several workers concurrently across distinct rqids.
type eventDispatcher struct {
	registry *registry
	metrics  Metrics
	workers  int

	ackCh   chan *eventWork
	eventCh chan *eventWork
	wg      sync.WaitGroup

	// closeMu guards closed and fences every channel send against
	// shutdown closing the channels.
	closeMu sync.RWMutex
	closed  bool

	// inlineMu is read-held around every immediate inline invocation, so
	// waitInline can rendezvous with invocations that bypass eventCh.
	inlineMu sync.RWMutex

	emitAck       func(seq uint8)
	isInitialized func() bool
}

const (
	ackQueueDepth   = 64
	eventQueueDepth = 64
)

func newEventDispatcher(reg *registry, workers int, metrics Metrics, emitAck func(uint8), isInitialized func() bool) *eventDispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if workers < 1 {
		workers = 1
	}
	d := &eventDispatcher{
		registry:      reg,
		metrics:       metrics,
		workers:       workers,
		ackCh:         make(chan *eventWork, ackQueueDepth),
		eventCh:       make(chan *eventWork, eventQueueDepth),
		emitAck:       emitAck,
		isInitialized: isInitialized,
	}
	d.wg.Add(1)
	go d.runAckWorker()
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.runEventWorker()
	}
	return d
}

// handleCommand is called from the receive path for every decoded command
// frame whose rqid lies in the event range.
func (d *eventDispatcher) handleCommand(f frame) {
	ev := Event{
		Rqid:           f.rqid,
		TargetCategory: f.tc,
		InstanceID:     f.iid,
		CommandID:      f.cid,
		Payload:        append([]byte(nil), f.payload...),
	}
	work := &eventWork{refcount: 2, seq: f.seq, event: ev}

	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		return
	}
	select {
	case d.ackCh <- work:
		d.closeMu.RUnlock()
	default:
		d.closeMu.RUnlock()
		log.Printf("ssh: %v: ack queue full, dropping event rqid=%d seq=%d", ErrOutOfMemory, ev.Rqid, f.seq)
		d.metrics.EventDropped(ev.Rqid)
		return
	}
	d.metrics.EventDispatched(ev.Rqid)

	entry := d.registry.lookup(ev.Rqid)
	var delay time.Duration
	if entry != nil && entry.delay != nil {
		delay = entry.delay(ev, entry.data)
	}

	if delay <= 0 {
		// Immediate inline dispatch on the receive path; the handler must
		// never call back into the request engine or the handler registry
		// from here. invoke re-reads the slot itself rather than reusing
		// entry above, which only fed the delay decision, and inlineMu
		// lets RemoveEventHandler wait out invocations that never pass
		// through eventCh.
		d.inlineMu.RLock()
		d.invoke(work)
		d.inlineMu.RUnlock()
		return
	}

	work.delay = delay
	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		d.release(work)
		return
	}
	select {
	case d.eventCh <- work:
		d.closeMu.RUnlock()
	default:
		d.closeMu.RUnlock()
		log.Printf("ssh: %v: event queue full, dropping handler invocation for rqid=%d", ErrOutOfMemory, ev.Rqid)
		d.release(work)
	}
}

// invoke looks up the handler for work's rqid under the registry lock
// immediately before calling it, then drops the lock and invokes outside
// it. Re-reading here rather than trusting a pointer captured earlier is
// what lets RemoveEventHandler's drain barrier hold for every dispatch
// path, inline or queued.
func (d *eventDispatcher) invoke(work *eventWork) {
	entry := d.registry.lookup(work.event.Rqid)
	if entry == nil || entry.handler == nil {
		log.Printf("ssh: no handler registered for event rqid=%d", work.event.Rqid)
	} else {
		entry.handler(work.event, entry.data)
	}
	d.release(work)
}

func (d *eventDispatcher) release(work *eventWork) {
	atomic.AddInt32(&work.refcount, -1)
}

func (d *eventDispatcher) runAckWorker() {
	defer d.wg.Done()
	for work := range d.ackCh {
		if work.barrier != nil {
			work.barrier.arrived.Done()
			<-work.barrier.release
			continue
		}
		if d.isInitialized == nil || d.isInitialized() {
			d.emitAck(work.seq)
		}
		d.release(work)
	}
}

func (d *eventDispatcher) runEventWorker() {
	defer d.wg.Done()
	for work := range d.eventCh {
		if work.barrier != nil {
			work.barrier.arrived.Done()
			<-work.barrier.release
			continue
		}
		if work.delay > 0 {
			time.Sleep(work.delay)
		}
		d.invoke(work)
	}
}

// drain enqueues one barrier per worker and blocks until every worker has
// reached it. A worker holding a barrier cannot take a second one, so when
// all have checked in, none can still be running earlier work.
func (d *eventDispatcher) drain(ch chan *eventWork, workers int) {
	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		return
	}
	b := &drainBarrier{release: make(chan struct{})}
	b.arrived.Add(workers)
	for i := 0; i < workers; i++ {
		ch <- &eventWork{barrier: b}
	}
	d.closeMu.RUnlock()
	b.arrived.Wait()
	close(b.release)
}

// drainAck blocks until every ack task enqueued before this call has been
// processed.
func (d *eventDispatcher) drainAck() {
	d.drain(d.ackCh, 1)
}

// drainEvents blocks until every event task enqueued before this call has
// been processed, across all workers. Used both by the Controller teardown
// sequence and by the drain barrier behind RemoveEventHandler.
func (d *eventDispatcher) drainEvents() {
	d.drain(d.eventCh, d.workers)
}

// waitInline blocks until every immediate inline invocation that began
// before this call has returned. Taking the write lock forces a rendezvous
// with all read-holding invocations on the receive path.
func (d *eventDispatcher) waitInline() {
	d.inlineMu.Lock()
	d.inlineMu.Unlock()
}

func (d *eventDispatcher) isClosed() bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	return d.closed
}

// shutdown drains both queues, then closes them and stops their workers.
// The dispatcher cannot be reused afterwards; Initialize constructs a
// fresh one when it finds the previous dispatcher destroyed.
func (d *eventDispatcher) shutdown() {
	d.drainAck()
	d.drainEvents()

	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.ackCh)
	close(d.eventCh)
	d.closeMu.Unlock()

	d.wg.Wait()
}
