package memory

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/internal/events"
	"github.com/InsulaLabs/ntmirror/models"
)

const (
	defaultQueueSize      = 4096
	defaultHandshakeDelay = 20 * time.Millisecond
	defaultRetryInterval  = 250 * time.Millisecond
)

var eventKinds = []bus.EventKind{bus.EventTopic, bus.EventValue, bus.EventConnection, bus.EventTimeSync}

type ClientConfig struct {
	// HandshakeDelay is how long a connection attempt takes to complete.
	HandshakeDelay time.Duration
	// RetryInterval is the pause between rounds over the candidate addresses
	// when none of them answers.
	RetryInterval time.Duration
	// QueueSize bounds the delivery queue. A full queue blocks the sender.
	QueueSize int
	Logger    *slog.Logger
}

type localTopic struct {
	typ string
}

// Client implements bus.Bus on a Network. Events are delivered to listeners
// and pollers from a single goroutine in the order the server produced them.
type Client struct {
	network *Network
	cfg     ClientConfig
	logger  *slog.Logger

	mu       sync.Mutex
	hosts    []string
	port     int
	identity string
	running  bool
	session  uint64
	stopCh   chan struct{}
	server   *Server
	peer     models.PeerInfo
	pending  map[string]models.Value

	// The delivery goroutine only ever takes tableMu, so it can make progress
	// while mu is held by a caller blocked on a full queue.
	tableMu sync.Mutex
	topics  map[string]localTopic
	current map[string]models.ValueEvent

	pollMu  sync.Mutex
	pollers map[*poller]struct{}

	ps         events.PubSub
	publishers map[bus.EventKind]events.TopicPublisher

	lastUpdate atomic.Int64
	queue      chan delivery
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

var _ bus.Bus = (*Client)(nil)

func NewClient(network *Network, cfg ClientConfig) *Client {
	if cfg.HandshakeDelay <= 0 {
		cfg.HandshakeDelay = defaultHandshakeDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topicNames := make([]string, len(eventKinds))
	for i, k := range eventKinds {
		topicNames[i] = k.String()
	}
	ps := events.NewPubSub(events.Config{Topics: topicNames})

	publishers := make(map[bus.EventKind]events.TopicPublisher, len(eventKinds))
	for _, k := range eventKinds {
		// Permitted by construction.
		p, _ := ps.GetPublisher("memory_client", k.String())
		publishers[k] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		network:    network,
		cfg:        cfg,
		logger:     logger.WithGroup("memory_client"),
		port:       models.DefaultPort,
		topics:     make(map[string]localTopic),
		current:    make(map[string]models.ValueEvent),
		pending:    make(map[string]models.Value),
		pollers:    make(map[*poller]struct{}),
		ps:         ps,
		publishers: publishers,
		queue:      make(chan delivery, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	go c.run()
	return c
}

func (c *Client) SetServer(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = []string{host}
	c.port = port
}

func (c *Client) SetServerTeam(team int, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = bus.ResolveTeam(team)
	c.port = port
}

func (c *Client) StartClient(identity string) error {
	if c.ctx.Err() != nil {
		return bus.ErrClosed
	}

	c.StopClient()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = true
	c.identity = identity
	c.session++
	c.stopCh = make(chan struct{})

	go c.connect(c.session, c.stopCh, slices.Clone(c.hosts), c.port)
	c.logger.Info("Client started", "identity", identity, "hosts", c.hosts, "port", c.port)
	return nil
}

// connect walks the candidate addresses until one answers or the session is
// stopped.
func (c *Client) connect(session uint64, stop <-chan struct{}, hosts []string, port int) {
	wait := c.cfg.HandshakeDelay
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}

		for _, host := range hosts {
			srv, ok := c.network.lookup(host, port)
			if !ok {
				continue
			}
			c.attach(session, srv, host, port)
			return
		}
		wait = c.cfg.RetryInterval
	}
}

func (c *Client) attach(session uint64, srv *Server, host string, port int) {
	c.mu.Lock()
	if !c.running || c.session != session {
		c.mu.Unlock()
		return
	}
	c.peer = models.PeerInfo{
		RemoteID:        srv.cfg.Name,
		RemoteIP:        host,
		RemotePort:      port,
		ProtocolVersion: protocolVersion,
		LastUpdate:      time.Now().UnixMicro(),
	}
	c.lastUpdate.Store(c.peer.LastUpdate)
	c.server = srv
	srv.attach(c, c.peer)

	pending := c.pending
	c.pending = make(map[string]models.Value)
	c.mu.Unlock()

	c.logger.Info("Connected", "remote_id", srv.cfg.Name, "host", host, "port", port)

	for name, v := range pending {
		if !srv.Publish(name, v) {
			c.logger.Warn("Server rejected value written while offline", "topic", name, "type", v.Type())
		}
	}
}

func (c *Client) StopClient() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	srv, peer := c.server, c.peer
	c.server = nil
	c.peer = models.PeerInfo{}
	c.mu.Unlock()

	if srv == nil {
		return
	}
	srv.detach(c)
	c.enqueue(models.ConnectionChanged{Connected: false, Peer: peer})
	c.enqueue(models.TimeSyncChanged{})
	c.logger.Info("Disconnected", "remote_id", peer.RemoteID)
}

func (c *Client) Connections() []models.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		return nil
	}
	peer := c.peer
	peer.LastUpdate = c.lastUpdate.Load()
	return []models.PeerInfo{peer}
}

func (c *Client) AddListener(mask bus.EventKind, l bus.Listener) (bus.Unsubscriber, error) {
	if l == nil {
		return nil, bus.ErrNilListener
	}
	if mask&bus.EventAll == 0 {
		return nil, bus.ErrEmptyEventMask
	}

	var unsubs []events.Unsubscriber
	for _, k := range eventKinds {
		if mask&k == 0 {
			continue
		}
		unsub, err := c.ps.Subscribe(k.String(), listenerAdapter{l})
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

type listenerAdapter struct {
	l bus.Listener
}

func (a listenerAdapter) OnMessage(ctx context.Context, event events.Event) {
	a.l.OnEvent(ctx, event.Data)
}

// Publish writes through to the server when connected. Offline writes are
// kept and sent once a connection comes up, and local listeners see them
// right away.
func (c *Client) Publish(name string, v models.Value) bool {
	if name == "" || !v.IsValid() {
		return false
	}

	c.mu.Lock()
	c.tableMu.Lock()
	t, known := c.topics[name]
	if known && t.typ != v.Type() {
		c.tableMu.Unlock()
		c.mu.Unlock()
		c.logger.Warn("Rejected write with conflicting type", "topic", name, "have", t.typ, "got", v.Type())
		return false
	}
	srv := c.server
	if srv == nil {
		c.topics[name] = localTopic{typ: v.Type()}
		c.tableMu.Unlock()
		c.pending[name] = v
		c.mu.Unlock()

		now := time.Now().UnixMicro()
		if !known {
			c.enqueue(models.TopicAnnounced{Name: name, Type: v.Type(), Properties: []byte("{}")})
		}
		c.enqueue(models.ValueChanged{ValueEvent: models.ValueEvent{
			Topic:      name,
			Type:       v.Type(),
			Value:      v,
			LastChange: now,
			ServerTime: now,
		}})
		return true
	}
	c.tableMu.Unlock()
	c.mu.Unlock()

	return srv.Publish(name, v)
}

func (c *Client) Subscribe(prefixes []string, opts bus.SubscribeOptions) (bus.Poller, error) {
	if c.ctx.Err() != nil {
		return nil, bus.ErrClosed
	}
	if len(prefixes) == 0 {
		return nil, bus.ErrNoPrefixes
	}

	p := &poller{
		client:   c,
		prefixes: slices.Clone(prefixes),
		opts:     opts,
	}

	c.pollMu.Lock()
	c.pollers[p] = struct{}{}
	c.pollMu.Unlock()

	if opts.Immediate {
		c.push(delivery{immediate: p})
	}
	return p, nil
}

// delivery is one item on the queue: either an event or a request to hand a
// new poller the current values. The request rides the queue so those values
// reach the poller before any update that follows the subscription.
type delivery struct {
	ev        models.Event
	immediate *poller
}

func (c *Client) removePoller(p *poller) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	delete(c.pollers, p)
}

// Close stops the client and its delivery goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.StopClient()
		c.cancel()

		c.pollMu.Lock()
		ps := make([]*poller, 0, len(c.pollers))
		for p := range c.pollers {
			ps = append(ps, p)
		}
		c.pollMu.Unlock()
		for _, p := range ps {
			_ = p.Close()
		}
	})
}

func (c *Client) enqueue(ev models.Event) {
	if vc, ok := ev.(models.ValueChanged); ok {
		vc.Received = time.Now().UnixMicro()
		ev = vc
	}
	c.push(delivery{ev: ev})
}

func (c *Client) push(d delivery) {
	select {
	case c.queue <- d:
	case <-c.ctx.Done():
	}
}

func (c *Client) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case d := <-c.queue:
			if d.immediate != nil {
				c.deliverCurrent(d.immediate)
				continue
			}
			c.handle(d.ev)
		}
	}
}

func (c *Client) handle(ev models.Event) {
	c.lastUpdate.Store(time.Now().UnixMicro())
	c.track(ev)

	if p, ok := c.publishers[bus.KindOf(ev)]; ok {
		if err := p.Publish(c.ctx, ev); err != nil {
			c.logger.Debug("Dropped event", "error", err)
		}
	}

	if vc, ok := ev.(models.ValueChanged); ok {
		for _, p := range c.pollerSnapshot() {
			p.offer(vc.ValueEvent)
		}
	}
}

func (c *Client) track(ev models.Event) {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()

	switch e := ev.(type) {
	case models.TopicAnnounced:
		c.topics[e.Name] = localTopic{typ: e.Type}
	case models.TopicRemoved:
		delete(c.topics, e.Name)
		delete(c.current, e.Name)
	case models.ValueChanged:
		c.topics[e.Topic] = localTopic{typ: e.Type}
		c.current[e.Topic] = e.ValueEvent
	}
}

func (c *Client) deliverCurrent(p *poller) {
	c.tableMu.Lock()
	current := make([]models.ValueEvent, 0, len(c.current))
	for _, ev := range c.current {
		current = append(current, ev)
	}
	c.tableMu.Unlock()

	slices.SortFunc(current, func(a, b models.ValueEvent) int { return strings.Compare(a.Topic, b.Topic) })
	for _, ev := range current {
		p.offer(ev)
	}
}

func (c *Client) pollerSnapshot() []*poller {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	out := make([]*poller, 0, len(c.pollers))
	for p := range c.pollers {
		out = append(out, p)
	}
	return out
}
