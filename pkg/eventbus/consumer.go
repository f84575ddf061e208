package eventbus

import (
	"fmt"
	"log"

	"github.com/linux-surface/ssh-hubd/pkg/ssh"
)

// ConsumerLink backs an ssh.ConsumerLink with a live Redis subscription, so
// that a client driver's device binding has an actual cross-process
// lifetime behind it instead of the bare in-process handle Controller's own
// ConsumerAdd returns.
type ConsumerLink struct {
	controller  *ssh.Controller
	inner       *ssh.ConsumerLink
	unsubscribe func()
}

// NewConsumerLink registers dev with controller and opens the Redis
// subscription backing its channel, returning a handle whose Close tears
// down both together.
func NewConsumerLink(c *Client, controller *ssh.Controller, dev string, flags int) (*ConsumerLink, error) {
	inner, err := controller.ConsumerAdd(dev, flags)
	if err != nil {
		return nil, fmt.Errorf("eventbus: consumer add %s: %w", dev, err)
	}

	pubsub := c.rdb.Subscribe(c.ctx, consumerChannel(dev))
	msgs := pubsub.Channel()
	go func() {
		for range msgs {
			// Client drivers that care about channel contents subscribe
			// independently via Client.Subscribe; this goroutine only keeps
			// the link's own subscription drained for its lifetime.
		}
	}()

	return &ConsumerLink{
		controller:  controller,
		inner:       inner,
		unsubscribe: func() { pubsub.Close() },
	}, nil
}

// Close releases both the controller-side registration and the backing
// Redis subscription.
func (l *ConsumerLink) Close() error {
	l.unsubscribe()
	if err := l.controller.ConsumerRemove(l.inner); err != nil {
		log.Printf("eventbus: consumer remove %s: %v", l.inner.Dev, err)
		return err
	}
	return nil
}

func consumerChannel(dev string) string {
	return fmt.Sprintf("%s%s", consumerChannelPrefix, dev)
}
