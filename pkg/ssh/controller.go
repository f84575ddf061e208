package ssh

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

type lifecycleState int

const (
	Uninitialized lifecycleState = iota
	Initialized
	Suspended
)

func (s lifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Suspended:
		return "Suspended"
	default:
		return "unknown"
	}
}

// ConsumerLink is returned by Controller.ConsumerAdd and released by
// Controller.ConsumerRemove. pkg/eventbus wraps this with a live Redis
// subscription so a client driver's probe binding has an actual lifetime
// behind it.
type ConsumerLink struct {
	Dev   string
	Flags int
}

// Options configures a new Controller. Platform, Dependents and Metrics
// are optional; Transport is required before Initialize is called.
type Options struct {
	Transport    Transport
	Platform     PlatformResolver
	Dependents   DependentEnumerator
	Metrics      Metrics
	EventWorkers int
}

// Controller bundles the wire codec, receive assembler, request engine
// and event dispatcher around one transport. Callers hold an explicit
// handle produced by New rather than reaching a process-wide singleton
// through a global lookup. All request calls and lifecycle transitions
// are serialized by mu.
type Controller struct {
	mu          sync.Mutex
	state       lifecycleState
	stateAtomic int32

	transport  Transport
	platform   PlatformResolver
	dependents DependentEnumerator
	metrics    Metrics

	counters     counters
	receiver     *receiver
	registry     *registry
	events       *eventDispatcher
	eventWorkers int

	consumersMu sync.Mutex
	consumers   map[*ConsumerLink]struct{}
}

// New constructs a Controller in the Uninitialized state; it touches
// nothing outside the process until Initialize is called.
func New(opts Options) *Controller {
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	c := &Controller{
		state:        Uninitialized,
		transport:    opts.Transport,
		platform:     opts.Platform,
		dependents:   opts.Dependents,
		metrics:      opts.Metrics,
		eventWorkers: opts.EventWorkers,
		consumers:    make(map[*ConsumerLink]struct{}),
	}
	// rqid 0 is invalid on the wire; the first request goes out as rqid 1.
	c.counters = counters{rqid: 1}
	c.registry = newRegistry()
	c.events = newEventDispatcher(c.registry, c.eventWorkers, c.metrics, c.sendAck, c.isInitializedUnlocked)
	c.receiver = newReceiver(c.events)
	return c
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() lifecycleState {
	return lifecycleState(atomic.LoadInt32(&c.stateAtomic))
}

func (c *Controller) setState(s lifecycleState) {
	c.state = s
	atomic.StoreInt32(&c.stateAtomic, int32(s))
}

// isInitializedUnlocked is polled by the ack queue worker, which must
// never block on the controller mutex: the receive path, and by extension
// the dispatcher it feeds, must not wait on anything the request engine
// holds.
func (c *Controller) isInitializedUnlocked() bool {
	return lifecycleState(atomic.LoadInt32(&c.stateAtomic)) == Initialized
}

func (c *Controller) sendAck(seq uint8) {
	if c.transport == nil {
		return
	}
	if err := c.transport.Write(encodeAck(seq), WriteTimeout); err != nil {
		log.Printf("ssh: event ack write failed: %v", err)
	}
}

// Initialize runs the probe sequence: open the transport,
// configure the UART per the platform descriptor, issue the resume
// handshake, then enumerate dependent consumer devices.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Uninitialized {
		return fmt.Errorf("ssh: initialize: %w", ErrNotPermitted)
	}
	if c.transport == nil {
		return fmt.Errorf("ssh: initialize: %w: no transport configured", ErrInvalidArgument)
	}

	// Teardown destroys the dispatcher queues; a re-initialized controller
	// gets fresh ones.
	if c.events.isClosed() {
		c.events = newEventDispatcher(c.registry, c.eventWorkers, c.metrics, c.sendAck, c.isInitializedUnlocked)
		c.receiver.setEvents(c.events)
	}

	cfg := UARTConfig{BaudRate: 115200}
	if c.platform != nil {
		resolved, err := c.platform.ResolveUART()
		if err != nil {
			return fmt.Errorf("ssh: resolve platform uart: %w", err)
		}
		cfg = resolved
	}

	c.transport.SetReceiver(c.receiver.feed)
	if err := c.transport.Open(); err != nil {
		return fmt.Errorf("ssh: open transport: %w", err)
	}
	if err := c.transport.Configure(cfg); err != nil {
		c.transport.Close()
		return fmt.Errorf("ssh: configure transport: %w", err)
	}

	// Publish Initialized before the resume handshake: the ack worker
	// must see the new state the moment a reply to resume arrives.
	c.setState(Initialized)
	log.Printf("ssh: controller initialized, running resume handshake")

	if _, err := c.rqstLocked(Request{TargetCategory: TcAdmin, CommandID: CidResume, HasResponse: true}, nil); err != nil {
		log.Printf("ssh: resume handshake failed: %v", err)
	}

	if c.dependents != nil {
		if err := c.dependents.EnumerateDependents(); err != nil {
			log.Printf("ssh: dependent enumeration failed: %v", err)
		}
	}

	return nil
}

// Teardown issues the suspend handshake, drains both dispatcher queues,
// clears the handler table, and closes the transport. It drains the
// queues a second time after publishing Uninitialized so no worker can
// still be mid-flight against the transport, then destroys both queues.
// The transport handle itself is kept so a later Initialize can reuse it.
func (c *Controller) Teardown() error {
	c.mu.Lock()
	if c.state == Uninitialized {
		c.mu.Unlock()
		return fmt.Errorf("ssh: teardown: %w", ErrNotInitialized)
	}

	if _, err := c.rqstLocked(Request{TargetCategory: TcAdmin, CommandID: CidSuspend, HasResponse: true}, nil); err != nil {
		log.Printf("ssh: suspend handshake during teardown failed: %v", err)
	}

	c.events.drainAck()
	c.events.drainEvents()
	c.registry.clear()

	c.setState(Uninitialized)
	transport := c.transport
	c.mu.Unlock()

	c.events.drainAck()
	c.events.drainEvents()
	c.events.waitInline()

	var closeErr error
	if transport != nil {
		closeErr = transport.Close()
	}
	c.events.shutdown()

	if closeErr != nil {
		return fmt.Errorf("ssh: close transport: %w", closeErr)
	}
	log.Printf("ssh: controller torn down")
	return nil
}

// Suspend issues the controller-side suspend command and moves the
// controller to Suspended, refusing further Rqst calls until Resume.
func (c *Controller) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized {
		return fmt.Errorf("ssh: suspend: %w", ErrNotPermitted)
	}
	if _, err := c.rqstLocked(Request{TargetCategory: TcAdmin, CommandID: CidSuspend, HasResponse: true}, nil); err != nil {
		return fmt.Errorf("ssh: suspend handshake: %w", err)
	}
	c.setState(Suspended)
	log.Printf("ssh: controller suspended")
	return nil
}

// Resume issues the controller-side resume command and moves the
// controller back to Initialized.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Suspended {
		return fmt.Errorf("ssh: resume: %w", ErrNotPermitted)
	}
	if _, err := c.rqstLocked(Request{TargetCategory: TcAdmin, CommandID: CidResume, HasResponse: true}, nil); err != nil {
		return fmt.Errorf("ssh: resume handshake: %w", err)
	}
	c.setState(Initialized)
	log.Printf("ssh: controller resumed")
	return nil
}

// ConsumerAdd creates a device-lifetime link between a consumer and the
// transport device. pkg/eventbus.NewConsumerLink wraps the returned
// handle with a live Redis subscription.
func (c *Controller) ConsumerAdd(dev string, flags int) (*ConsumerLink, error) {
	if c.State() == Uninitialized {
		return nil, fmt.Errorf("ssh: consumer add: %w", ErrNotInitialized)
	}
	link := &ConsumerLink{Dev: dev, Flags: flags}
	c.consumersMu.Lock()
	c.consumers[link] = struct{}{}
	c.consumersMu.Unlock()
	return link, nil
}

// ConsumerRemove tears down a link created by ConsumerAdd.
func (c *Controller) ConsumerRemove(link *ConsumerLink) error {
	if link == nil {
		return ErrInvalidArgument
	}
	c.consumersMu.Lock()
	_, ok := c.consumers[link]
	delete(c.consumers, link)
	c.consumersMu.Unlock()
	if !ok {
		return ErrInvalidArgument
	}
	return nil
}

// EnableEventSource and DisableEventSource issue the fixed admin request
// that toggles event delivery for rqid.
func (c *Controller) EnableEventSource(tc, unknown uint8, rqid uint16) error {
	return c.toggleEventSource(CidEnableEventSource, tc, unknown, rqid)
}

func (c *Controller) DisableEventSource(tc, unknown uint8, rqid uint16) error {
	return c.toggleEventSource(CidDisableEventSource, tc, unknown, rqid)
}

func (c *Controller) toggleEventSource(cid, tc, unknown uint8, rqid uint16) error {
	if !isEventRqid(rqid) {
		return fmt.Errorf("ssh: event source toggle: rqid %d not in event range: %w", rqid, ErrInvalidArgument)
	}
	payload := []byte{tc, unknown, byte(rqid), byte(rqid >> 8)}
	resp := Buffer{Capacity: 1, Data: make([]byte, 1)}
	if _, err := c.Rqst(Request{
		TargetCategory: TcAdmin,
		CommandID:      cid,
		HasResponse:    true,
		Payload:        payload,
	}, &resp); err != nil {
		return err
	}
	if resp.Length > 0 && resp.Data[0] != 0 {
		log.Printf("ssh: event source toggle reported error status %d for rqid=%d: %v", resp.Data[0], rqid, ErrControllerReportedError)
	}
	return nil
}

// SetEventHandler registers fn for immediate inline dispatch of events
// with the given rqid.
func (c *Controller) SetEventHandler(rqid uint16, fn HandlerFunc, data interface{}) error {
	return c.registry.set(rqid, fn, nil, data)
}

// SetDelayedEventHandler registers fn together with a delay function
// consulted synchronously on the receive path.
func (c *Controller) SetDelayedEventHandler(rqid uint16, fn HandlerFunc, delay DelayFunc, data interface{}) error {
	return c.registry.set(rqid, fn, delay, data)
}

// RemoveEventHandler clears the handler slot and blocks until no
// in-flight invocation of the removed handler can still be running,
// whether it was queued on the event queue or dispatched inline on the
// receive path.
func (c *Controller) RemoveEventHandler(rqid uint16) error {
	if _, err := c.registry.remove(rqid); err != nil {
		return err
	}
	c.events.drainEvents()
	c.events.waitInline()
	return nil
}
