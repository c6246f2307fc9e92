// Package mqttbus adapts pkg/mqtt0's pull-Recv QoS 0 client into the
// callback-based bus.Client contract: a pump goroutine drains Recv into a
// bounded queue, and a dispatch goroutine fans each message out to every
// subscription whose filter matches.
package mqttbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nnstreamer/aitt-go/pkg/bus"
	"github.com/nnstreamer/aitt-go/pkg/buffer"
	"github.com/nnstreamer/aitt-go/pkg/mqtt0"
)

// recvQueueSize bounds the pump-to-dispatch queue; a slow dispatcher
// applies backpressure to the pump rather than growing without bound.
const recvQueueSize = 256

// envelope carries a message's payload plus the reply metadata and
// sender identity mqtt0's wire format has no field for: mqtt0.Message is
// QoS0-MQTT-shaped (topic/payload/retain only), but spec.md's Bus Client
// contract needs a sender id on every inbound record (for Discovery) and
// optional reply-topic/correlation on requests (for publish_with_reply).
// Every publish through this package is therefore msgpack-wrapped in one
// of these envelopes, and every Recv unwraps one back out.
type envelope struct {
	SenderID    string `msgpack:"s,omitempty"`
	ReplyTopic  string `msgpack:"r,omitempty"`
	Correlation []byte `msgpack:"c,omitempty"`
	Payload     []byte `msgpack:"p"`
}

type subscription struct {
	topic   string
	handler bus.Handler
}

// Client is the one concrete bus.Client this module ships.
type Client struct {
	id string

	mu          sync.Mutex
	conn        *mqtt0.Client
	subs        map[bus.SubscriptionHandle]*subscription
	nextHandle  uint64
	willTopic   string
	willPayload []byte
	willRetain  bool
	stateCb     func(bus.ConnectionState)

	queue  *buffer.BlockBuffer[*mqtt0.Message]
	cancel context.CancelFunc
}

// New returns a Client that identifies itself to the broker (and embeds
// itself as envelope.SenderID on every outgoing message) as id.
func New(id string) *Client {
	return &Client{
		id:   id,
		subs: make(map[bus.SubscriptionHandle]*subscription),
	}
}

func (c *Client) SetConnectionCallback(cb func(bus.ConnectionState)) {
	c.mu.Lock()
	c.stateCb = cb
	c.mu.Unlock()
}

func (c *Client) notify(state bus.ConnectionState) {
	c.mu.Lock()
	cb := c.stateCb
	c.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// SetWill must be called before Connect; mqtt0's will registration happens
// at CONNECT time, so the values are only staged here.
func (c *Client) SetWill(topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("mqttbus: SetWill called after Connect")
	}
	c.willTopic = topic
	c.willPayload = payload
	c.willRetain = retain
	return nil
}

func (c *Client) Connect(ctx context.Context, host string, port int, user, pass string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("mqttbus: already connected")
	}

	cfg := mqtt0.ClientConfig{
		Addr:         fmt.Sprintf("tcp://%s:%d", host, port),
		ClientID:     c.id,
		Username:     user,
		Password:     []byte(pass),
		CleanSession: true,
	}
	if c.willTopic != "" {
		willBytes, err := msgpack.Marshal(&envelope{SenderID: c.id, Payload: c.willPayload})
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("mqttbus: encode will: %w", err)
		}
		cfg.WillTopic = c.willTopic
		cfg.WillMessage = willBytes
		cfg.WillQoS = mqtt0.AtMostOnce
		cfg.WillRetain = c.willRetain
	}
	c.mu.Unlock()

	conn, err := mqtt0.Connect(ctx, cfg)
	if err != nil {
		c.notify(bus.ConnectionLost)
		return fmt.Errorf("mqttbus: connect: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.queue = buffer.BlockN[*mqtt0.Message](recvQueueSize)
	c.cancel = cancel
	c.mu.Unlock()

	go c.pump(pumpCtx)
	go c.dispatchLoop()

	c.notify(bus.Connected)
	return nil
}

// pump calls Recv in a loop, handing every inbound message to the bounded
// queue the dispatch goroutine drains, so a slow subscriber handler never
// stalls the socket read.
func (c *Client) pump(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	queue := c.queue
	c.mu.Unlock()

	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			queue.CloseWithError(err)
			c.notify(bus.ConnectionLost)
			return
		}
		if err := queue.Add(msg); err != nil {
			return
		}
	}
}

func (c *Client) dispatchLoop() {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()

	for {
		msg, err := queue.Next()
		if err != nil {
			return
		}

		var env envelope
		if err := msgpack.Unmarshal(msg.Payload, &env); err != nil {
			continue
		}

		bm := &bus.Message{
			Topic:       msg.Topic,
			Payload:     env.Payload,
			Retain:      msg.Retain,
			SenderID:    env.SenderID,
			ReplyTopic:  env.ReplyTopic,
			Correlation: env.Correlation,
		}

		c.mu.Lock()
		var matched []bus.Handler
		for _, sub := range c.subs {
			if mqtt0.TopicMatches(sub.topic, msg.Topic) {
				matched = append(matched, sub.handler)
			}
		}
		c.mu.Unlock()

		for _, h := range matched {
			h(bm)
		}
	}
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.notify(bus.Disconnected)
	return err
}

func (c *Client) publish(ctx context.Context, topic string, payload []byte, retain bool, replyTopic string, correlation []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("mqttbus: not connected")
	}

	data, err := msgpack.Marshal(&envelope{
		SenderID:    c.id,
		ReplyTopic:  replyTopic,
		Correlation: correlation,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("mqttbus: encode envelope: %w", err)
	}
	return conn.PublishRetain(ctx, topic, data, retain)
}

// Publish is fire-and-forget; qos is accepted for interface compatibility
// but every delivery is QoS 0, matching the adapted mqtt0 backend.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	return c.publish(ctx, topic, payload, retain, "", nil)
}

func (c *Client) PublishWithReply(ctx context.Context, topic string, payload []byte, qos int, retain bool, replyTopic string, correlation []byte) error {
	return c.publish(ctx, topic, payload, retain, replyTopic, correlation)
}

func (c *Client) SendReply(ctx context.Context, msg *bus.Message, payload []byte, qos int, retain bool) error {
	if msg.ReplyTopic == "" {
		return fmt.Errorf("mqttbus: message has no reply topic")
	}
	return c.publish(ctx, msg.ReplyTopic, payload, retain, "", msg.Correlation)
}

func (c *Client) Subscribe(ctx context.Context, topic string, handler bus.Handler, qos int) (bus.SubscriptionHandle, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("mqttbus: not connected")
	}
	alreadySubscribed := false
	for _, sub := range c.subs {
		if sub.topic == topic {
			alreadySubscribed = true
			break
		}
	}
	c.mu.Unlock()

	if !alreadySubscribed {
		if err := conn.Subscribe(ctx, topic); err != nil {
			return 0, fmt.Errorf("mqttbus: subscribe: %w", err)
		}
	}

	c.mu.Lock()
	c.nextHandle++
	handle := bus.SubscriptionHandle(c.nextHandle)
	c.subs[handle] = &subscription{topic: topic, handler: handler}
	c.mu.Unlock()

	return handle, nil
}

func (c *Client) Unsubscribe(ctx context.Context, handle bus.SubscriptionHandle) error {
	c.mu.Lock()
	sub, ok := c.subs[handle]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("mqttbus: unknown subscription handle")
	}
	delete(c.subs, handle)
	stillUsed := false
	for _, other := range c.subs {
		if other.topic == sub.topic {
			stillUsed = true
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if !stillUsed && conn != nil {
		return conn.Unsubscribe(ctx, sub.topic)
	}
	return nil
}

func (c *Client) CompareTopic(filter, topic string) bool {
	return mqtt0.TopicMatches(filter, topic)
}

var _ bus.Client = (*Client)(nil)
