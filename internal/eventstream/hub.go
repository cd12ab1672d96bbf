// Package eventstream streams hop lifecycle events to presentation clients
// over websockets and feeds their signals and playback controls back into the
// coordinator.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/internal/logging"
)

const (
	defaultClientBuffer = 64
	writeWait           = 5 * time.Second
	maxClientMessage    = 4096
)

// ErrUnknownControl is returned for control messages the hub cannot apply.
var ErrUnknownControl = errors.New("unknown control")

// Metrics receives stream counters. observability.LoopCollector implements
// it.
type Metrics interface {
	SetStreamClients(n int)
	StreamBroadcast()
	StreamDroppedMessage()
}

type noopMetrics struct{}

func (noopMetrics) SetStreamClients(int)  {}
func (noopMetrics) StreamBroadcast()      {}
func (noopMetrics) StreamDroppedMessage() {}

// Hub fans lifecycle events out to websocket clients. Attach and Detach run
// on the frame loop; ServeHTTP runs on server goroutines and only reaches the
// coordinator through Post.
type Hub struct {
	c        *core.Coordinator
	log      logging.Logger
	metrics  Metrics
	buffer   int
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	unsubs []func()
}

// Option customises a Hub.
type Option func(*Hub)

// WithClientBuffer sets how many messages may queue per client before new
// ones are dropped.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics attaches stream counters.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a hub for c. Call Attach to start forwarding events.
func NewHub(c *core.Coordinator, opts ...Option) *Hub {
	h := &Hub{
		c:       c,
		log:     logging.Noop(),
		metrics: noopMetrics{},
		buffer:  defaultClientBuffer,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach subscribes the hub to every lifecycle topic and to all signals.
func (h *Hub) Attach() {
	if len(h.unsubs) > 0 {
		return
	}
	bus := h.c.Bus()
	h.unsubs = []func(){
		bus.Launch.Subscribe(func(e core.LaunchEvent) { h.Broadcast(launchMessage(e)) }),
		bus.Pause.Subscribe(func(e core.PauseEvent) { h.Broadcast(pauseMessage(e)) }),
		bus.Resume.Subscribe(func(e core.ResumeEvent) { h.Broadcast(resumeMessage(e)) }),
		bus.HoldStart.Subscribe(func(e core.HoldStartEvent) { h.Broadcast(holdStartMessage(e)) }),
		bus.HoldComplete.Subscribe(func(e core.HoldCompleteEvent) { h.Broadcast(holdCompleteMessage(e)) }),
		bus.Arrival.Subscribe(func(e core.ArrivalEvent) { h.Broadcast(arrivalMessage(e)) }),
		bus.Stopped.Subscribe(func(e core.StoppedEvent) { h.Broadcast(stoppedMessage(e)) }),
		bus.Stalled.Subscribe(func(e core.StalledEvent) { h.Broadcast(stalledMessage(e)) }),
		h.c.Signals().SubscribeAll(func(name string) { h.Broadcast(Message{Type: TypeSignal, Signal: name}) }),
	}
}

// Detach undoes Attach.
func (h *Hub) Detach() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast encodes m once and queues it for every client. Clients whose
// queue is full miss the message.
func (h *Hub) Broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Warn(context.Background(), "stream message encode failed",
			logging.String("type", m.Type),
			logging.Err(err),
		)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	for cl := range h.clients {
		if !cl.enqueue(data) {
			h.metrics.StreamDroppedMessage()
		}
	}
	h.metrics.StreamBroadcast()
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, log, requestID := requestLogger(h.log, r)
	conn, err := h.upgrader.Upgrade(w, r, http.Header{RequestIDHeader: []string{requestID}})
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}

	cl := newClient(conn, h.buffer)
	// hello is written only once the client is registered
	if data, err := json.Marshal(Message{Type: TypeHello, Version: ProtocolVersion, ClientID: requestID}); err == nil {
		cl.enqueue(data)
	}
	if !h.register(cl) {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Info(ctx, "stream client connected", logging.Int("clients", h.Clients()))
	go cl.writeLoop()

	conn.SetReadLimit(maxClientMessage)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug(ctx, "discarding malformed client message", logging.Err(err))
			h.reply(cl, fmt.Errorf("malformed message: %w", err))
			continue
		}
		if err := h.apply(msg); err != nil {
			h.reply(cl, err)
			continue
		}
		log.Debug(ctx, "client message posted",
			logging.String("signal", msg.Signal),
			logging.String("control", msg.Control),
		)
	}

	h.unregister(cl)
	log.Info(ctx, "stream client disconnected", logging.Int("clients", h.Clients()))
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for cl := range clients {
		cl.close()
	}
	h.metrics.SetStreamClients(0)
}

// apply validates msg and posts its effect to the frame loop.
func (h *Hub) apply(msg ClientMessage) error {
	c := h.c
	if msg.Signal != "" {
		name := msg.Signal
		c.Post(func() { c.Signals().Fire(name) })
	}
	switch strings.ToLower(msg.Control) {
	case "":
		if msg.Signal == "" {
			return errors.New("message has neither signal nor control")
		}
	case "pause":
		c.Post(c.Pause)
	case "resume":
		c.Post(c.Resume)
	case "toggle":
		c.Post(func() { c.TogglePause() })
	case "speed":
		if msg.Value == nil {
			return fmt.Errorf("%w: speed needs a value", ErrUnknownControl)
		}
		speed := *msg.Value
		c.Post(func() { c.SetSpeed(speed) })
	default:
		return fmt.Errorf("%w: %q", ErrUnknownControl, msg.Control)
	}
	return nil
}

func (h *Hub) reply(cl *client, err error) {
	data, mErr := json.Marshal(Message{Type: TypeError, Error: err.Error()})
	if mErr != nil {
		return
	}
	if !cl.enqueue(data) {
		h.metrics.StreamDroppedMessage()
	}
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.metrics.SetStreamClients(len(h.clients))
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		h.metrics.SetStreamClients(len(h.clients))
	}
	h.mu.Unlock()
	cl.close()
}
