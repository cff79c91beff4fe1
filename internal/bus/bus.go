// Package bus is the signal cache: the single point of contact with the
// external telemetry/control transport. Readings arrive as MQTT messages
// under hierarchical topic paths (mirroring the D-Bus paths of the original
// system) and are cached so the rest of the controller can read the latest
// value without waiting on the network.
//
// Grounded on mqtt_worker.go (connect/subscribe/reconnect) and
// mqtt_sender.go (outgoing queue while disconnected).
package bus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Signal is one cached telemetry value. Present is false until at least one
// reading (bulk fetch or live update) has arrived.
type Signal struct {
	Value   float64
	Str     string
	Present bool
	At      time.Time
}

type subscriber struct {
	path string
	ch   chan Signal
}

// Cache holds the latest known value for every subscribed path and fans out
// updates to interested subscribers.
type Cache struct {
	mu     sync.RWMutex
	values map[string]Signal
	subs   []subscriber

	client    mqtt.Client
	outgoing  chan outMsg
	connected chan mqtt.Client
}

type outMsg struct {
	topic string
	value float64
}

// NewCache creates an empty, disconnected signal cache.
func NewCache() *Cache {
	return &Cache{
		values:    make(map[string]Signal),
		outgoing:  make(chan outMsg, 64),
		connected: make(chan mqtt.Client, 1),
	}
}

// Connect dials the MQTT broker and begins the bulk-fetch-then-subscribe
// sequence for the given paths. It blocks until ctx is cancelled.
//
// Bulk fetch here means: subscribe to every path at QoS 0 (retained values
// arrive as ordinary messages) and wait up to fetchWindow for those
// subscriptions to complete; paths with no retained value stay
// Present == false until a live update arrives,
// matching the "fill by individual queries, else absent" fallback in spec
// §6 (MQTT retained messages stand in for the original's per-path query
// fallback — there is no separate query RPC in this transport).
func (c *Cache) Connect(ctx context.Context, broker, clientID, username, password string, paths []string, fetchWindow time.Duration) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		for _, p := range paths {
			path := p
			token := client.Subscribe(path, 0, func(_ mqtt.Client, msg mqtt.Message) {
				c.ingest(path, msg.Payload())
			})
			token.Wait()
		}
		select {
		case c.connected <- client:
		default:
		}
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	select {
	case <-c.connected:
	case <-time.After(fetchWindow):
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.pump(ctx)
}

func (c *Cache) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if c.client != nil && c.client.IsConnected() {
				c.client.Disconnect(250)
			}
			return ctx.Err()
		case m := <-c.outgoing:
			if c.client == nil || !c.client.IsConnected() {
				continue
			}
			payload := strconv.FormatFloat(m.value, 'f', -1, 64)
			token := c.client.Publish(m.topic, 0, false, payload)
			token.Wait()
		}
	}
}

func (c *Cache) ingest(path string, payload []byte) {
	s := Signal{Str: string(payload), Present: true, At: time.Now()}
	if v, err := strconv.ParseFloat(s.Str, 64); err == nil {
		s.Value = v
	}

	c.mu.Lock()
	c.values[path] = s
	subs := make([]chan Signal, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.path == path {
			subs = append(subs, sub.ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Get returns the last known value for path, or a zero Signal with
// Present == false if nothing has arrived yet.
func (c *Cache) Get(path string) (Signal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.values[path]
	return s, ok && s.Present
}

// Subscribe returns a channel that receives every future update to path.
// The channel is buffered; a stalled reader drops updates rather than
// blocking the cache.
func (c *Cache) Subscribe(path string) <-chan Signal {
	ch := make(chan Signal, 8)
	c.mu.Lock()
	c.subs = append(c.subs, subscriber{path: path, ch: ch})
	c.mu.Unlock()
	return ch
}

// Write queues a setpoint write to path for the publishing loop; it does not
// wait for the network, but blocks while the 64-entry queue is full (until
// ctx ends). Writes queued before Connect starts publishing are sent then; a
// write taken off the queue while the client is disconnected is dropped, not
// resent after reconnecting.
func (c *Cache) Write(ctx context.Context, path string, value float64) error {
	select {
	case c.outgoing <- outMsg{topic: path, value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
