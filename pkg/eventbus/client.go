// Package eventbus bridges dispatched ssh.Events and consumer device
// links onto Redis pub/sub, so that client drivers running as independent
// processes can subscribe to a controller's events without linking
// against pkg/ssh directly.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/linux-surface/ssh-hubd/pkg/ssh"
)

// eventChannelPrefix namespaces the channel an event's rqid is published on.
const eventChannelPrefix = "ssh:event:"

// consumerChannelPrefix namespaces the channel backing a ConsumerLink.
const consumerChannelPrefix = "ssh:consumer:"

// Client wraps a single *redis.Client plus the background context used
// for every call.
type Client struct {
	rdb *redis.Client
	ctx context.Context
}

// New connects to addr and verifies the connection with a PING before
// returning.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: connect to redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, ctx: ctx}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// wireEvent is the JSON shape published for every dispatched ssh.Event.
type wireEvent struct {
	Rqid           uint16 `json:"rqid"`
	TargetCategory uint8  `json:"tc"`
	InstanceID     uint8  `json:"iid"`
	CommandID      uint8  `json:"cid"`
	Payload        []byte `json:"payload"`
}

// PublishEvent is an ssh.HandlerFunc: install it via
// Controller.SetEventHandler (or SetDelayedEventHandler) to forward every
// dispatched event for a given rqid onto Redis.
func (c *Client) PublishEvent(ev ssh.Event, _ interface{}) {
	body, err := json.Marshal(wireEvent{
		Rqid:           ev.Rqid,
		TargetCategory: ev.TargetCategory,
		InstanceID:     ev.InstanceID,
		CommandID:      ev.CommandID,
		Payload:        ev.Payload,
	})
	if err != nil {
		log.Printf("eventbus: marshal event rqid=%d: %v", ev.Rqid, err)
		return
	}
	channel := eventChannel(ev.Rqid)
	if err := c.rdb.Publish(c.ctx, channel, body).Err(); err != nil {
		log.Printf("eventbus: publish event rqid=%d: %v", ev.Rqid, err)
	}
}

// Subscribe returns the message channel for rqid's events and an
// unsubscribe func the caller must run when done.
func (c *Client) Subscribe(rqid uint16) (<-chan *redis.Message, func()) {
	pubsub := c.rdb.Subscribe(c.ctx, eventChannel(rqid))
	return pubsub.Channel(), func() { pubsub.Close() }
}

func eventChannel(rqid uint16) string {
	return fmt.Sprintf("%s%d", eventChannelPrefix, rqid)
}
