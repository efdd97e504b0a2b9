package memory

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
)

const protocolVersion = 0x0400

type ServerConfig struct {
	// Name is reported to clients as the remote id.
	Name string
	// Ping is the round trip reported in time sync events.
	Ping time.Duration
	// ClockOffset is how far the server clock runs ahead of the local one.
	ClockOffset time.Duration
	Logger      *slog.Logger
}

type serverTopic struct {
	typ        string
	properties json.RawMessage
	value      models.Value
	lastChange int64
	serverTime int64
}

// Server holds the authoritative topic table and pushes every change to the
// attached clients.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	topics  map[string]*serverTopic
	clients map[*Client]struct{}
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Name == "" {
		cfg.Name = "server"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.WithGroup("memory_server").With("server", cfg.Name),
		topics:  make(map[string]*serverTopic),
		clients: make(map[*Client]struct{}),
	}
}

func (s *Server) now() int64 {
	return time.Now().Add(s.cfg.ClockOffset).UnixMicro()
}

// Announce publishes a topic without a value. Properties may be nil.
func (s *Server) Announce(name, typ string, properties map[string]any) error {
	if name == "" {
		return ErrEmptyTopicKey
	}
	if models.KindFromType(typ) == models.KindUnassigned {
		return ErrUnknownType
	}
	props, err := marshalProperties(properties)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.topics[name]; ok {
		if t.typ != typ {
			return ErrTypeConflict
		}
		return nil
	}
	s.topics[name] = &serverTopic{typ: typ, properties: props}
	s.broadcastLocked(models.TopicAnnounced{Name: name, Type: typ, Properties: props})
	return nil
}

// Publish sets a topic's value, announcing the topic first if needed. It
// returns false if the topic exists with a different type.
func (s *Server) Publish(name string, v models.Value) bool {
	now := time.Now().UnixMicro()
	return s.publish(name, v, now)
}

func (s *Server) publish(name string, v models.Value, lastChange int64) bool {
	if name == "" || !v.IsValid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[name]
	if ok && t.typ != v.Type() {
		s.logger.Warn("Rejected write with conflicting type", "topic", name, "have", t.typ, "got", v.Type())
		return false
	}
	if !ok {
		t = &serverTopic{typ: v.Type(), properties: json.RawMessage("{}")}
		s.topics[name] = t
		s.broadcastLocked(models.TopicAnnounced{Name: name, Type: t.typ, Properties: t.properties})
	}

	t.value = v
	t.lastChange = lastChange
	t.serverTime = s.now()
	s.broadcastLocked(models.ValueChanged{ValueEvent: t.event(name)})
	return true
}

func (s *Server) Unpublish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[name]; !ok {
		return
	}
	delete(s.topics, name)
	s.broadcastLocked(models.TopicRemoved{Name: name})
}

// SetProperties replaces a topic's property bag.
func (s *Server) SetProperties(name string, properties map[string]any) error {
	props, err := marshalProperties(properties)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[name]
	if !ok {
		return ErrUnknownTopic
	}
	t.properties = props
	s.broadcastLocked(models.PropertiesChanged{Name: name, Properties: props})
	return nil
}

func (s *Server) Topics() []models.TopicInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := slices.Sorted(maps.Keys(s.topics))
	out := make([]models.TopicInfo, 0, len(names))
	for _, name := range names {
		t := s.topics[name]
		var props map[string]any
		_ = json.Unmarshal(t.properties, &props)
		out = append(out, models.TopicInfo{Name: name, Type: t.typ, Properties: props})
	}
	return out
}

func (s *Server) Value(name string) (models.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[name]
	if !ok || !t.value.IsValid() {
		return models.Value{}, false
	}
	return t.value, true
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// attach registers c and queues the handshake: the connection event, every
// topic, every value and the time sync estimate. Doing this under the server
// lock keeps the snapshot ordered before any later broadcast.
func (s *Server) attach(c *Client, peer models.PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = struct{}{}
	c.enqueue(models.ConnectionChanged{Connected: true, Peer: peer})

	names := slices.Sorted(maps.Keys(s.topics))
	for _, name := range names {
		t := s.topics[name]
		c.enqueue(models.TopicAnnounced{Name: name, Type: t.typ, Properties: t.properties})
	}
	for _, name := range names {
		if t := s.topics[name]; t.value.IsValid() {
			c.enqueue(models.ValueChanged{ValueEvent: t.event(name)})
		}
	}

	c.enqueue(models.TimeSyncChanged{TimeSyncInfo: models.TimeSyncInfo{
		Valid: true,
		Ping:  s.cfg.Ping.Microseconds(),
		Drift: s.cfg.ClockOffset.Microseconds(),
	}})
	s.logger.Debug("Client attached", "clients", len(s.clients))
}

func (s *Server) detach(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	s.logger.Debug("Client detached", "clients", len(s.clients))
}

func (s *Server) broadcastLocked(ev models.Event) {
	for c := range s.clients {
		c.enqueue(ev)
	}
}

func (t *serverTopic) event(name string) models.ValueEvent {
	return models.ValueEvent{
		Topic:      name,
		Type:       t.typ,
		Value:      t.value,
		LastChange: t.lastChange,
		ServerTime: t.serverTime,
	}
}

func marshalProperties(properties map[string]any) (json.RawMessage, error) {
	if properties == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(properties)
}
