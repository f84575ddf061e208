// Package metrics implements the ssh.Metrics observability hook with
// Prometheus collectors, registered against a caller-supplied registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linux-surface/ssh-hubd/pkg/ssh"
)

// Collector is a Prometheus-backed ssh.Metrics.
type Collector struct {
	requestAttempts prometheus.Counter
	requestRetries  prometheus.Counter
	requestTimeouts prometheus.Counter
	requestSuccess  prometheus.Counter
	eventDispatched *prometheus.CounterVec
	eventDropped    *prometheus.CounterVec
}

// New constructs a Collector and registers its collectors against reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requestAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "request",
			Name:      "attempts_total",
			Help:      "Total number of command write attempts issued by the request engine, including retries.",
		}),
		requestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "request",
			Name:      "retries_total",
			Help:      "Total number of times a command was rewritten after an ack timeout or a RETRY frame.",
		}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "request",
			Name:      "timeouts_total",
			Help:      "Total number of requests that exhausted all retries without an ack.",
		}),
		requestSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "request",
			Name:      "success_total",
			Help:      "Total number of requests acked successfully.",
		}),
		eventDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "event",
			Name:      "dispatched_total",
			Help:      "Total number of inbound event frames enqueued for dispatch, by rqid.",
		}, []string{"rqid"}),
		eventDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sshhub",
			Subsystem: "event",
			Name:      "dropped_total",
			Help:      "Total number of inbound events dropped because a dispatcher queue was full, by rqid.",
		}, []string{"rqid"}),
	}

	collectors := []prometheus.Collector{
		c.requestAttempts, c.requestRetries, c.requestTimeouts, c.requestSuccess,
		c.eventDispatched, c.eventDropped,
	}
	for _, coll := range collectors {
		if err := reg.Register(coll); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RequestAttempt() { c.requestAttempts.Inc() }
func (c *Collector) RequestRetry()   { c.requestRetries.Inc() }
func (c *Collector) RequestTimeout() { c.requestTimeouts.Inc() }
func (c *Collector) RequestSuccess() { c.requestSuccess.Inc() }

func (c *Collector) EventDispatched(rqid uint16) {
	c.eventDispatched.WithLabelValues(strconv.Itoa(int(rqid))).Inc()
}

func (c *Collector) EventDropped(rqid uint16) {
	c.eventDropped.WithLabelValues(strconv.Itoa(int(rqid))).Inc()
}

var _ ssh.Metrics = (*Collector)(nil)
