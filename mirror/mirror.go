package mirror

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/internal/metrics"
	"github.com/InsulaLabs/ntmirror/models"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultRecordDuration = 10 * time.Second
	DefaultMaxRecord      = 5 * time.Minute
	DefaultPollInterval   = 100 * time.Millisecond

	waitPollInterval = 50 * time.Millisecond
)

type Config struct {
	// Bus is the transport being mirrored. Required.
	Bus bus.Bus

	// ValueTTL drops cached values that have not been updated for this long.
	// Zero keeps them until overwritten.
	ValueTTL time.Duration

	// WriteLimit caps SetValue calls per second. Zero means unlimited.
	WriteLimit rate.Limit
	WriteBurst int

	DefaultRecordDuration time.Duration
	MaxRecordDuration     time.Duration

	// PollInterval is how often a recording drains its poller. Zero selects
	// DefaultPollInterval, the 100 ms cadence recordings are specified with.
	// Other values are meant for tests and tuning only.
	PollInterval time.Duration

	// Registerer receives the mirror's collectors. Nil disables metrics.
	Registerer prometheus.Registerer
	// Name is the mirror label on every collector. Managers sharing a
	// Registerer need distinct names or they share series. Empty means
	// "default".
	Name string
}

// Manager mirrors one bus connection into local caches. Several managers
// may run side by side, each over its own bus.
type Manager struct {
	cfg     Config
	bus     bus.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	hub   *eventHub
	unsub bus.Unsubscriber

	connMu sync.Mutex
	target atomic.Pointer[models.ConnectionTarget]

	closeOnce sync.Once
}

func New(logger *slog.Logger, cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Bus == nil {
		return nil, ErrNilBus
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := *cfg
	if c.DefaultRecordDuration <= 0 {
		c.DefaultRecordDuration = DefaultRecordDuration
	}
	if c.MaxRecordDuration <= 0 {
		c.MaxRecordDuration = DefaultMaxRecord
	}
	if c.MaxRecordDuration < c.DefaultRecordDuration {
		c.MaxRecordDuration = c.DefaultRecordDuration
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WriteLimit <= 0 {
		c.WriteLimit = rate.Inf
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = 1
	}

	logger = logger.WithGroup("mirror")
	m := &Manager{
		cfg:     c,
		bus:     c.Bus,
		logger:  logger,
		metrics: metrics.New(c.Registerer, c.Name),
		limiter: rate.NewLimiter(c.WriteLimit, c.WriteBurst),
	}
	m.hub = newEventHub(logger.WithGroup("hub"), m.metrics, c.ValueTTL)

	unsub, err := m.bus.AddListener(bus.EventAll, m.hub)
	if err != nil {
		m.hub.values.stop()
		return nil, errors.Wrap(err, "registering event hub")
	}
	m.unsub = unsub
	return m, nil
}

// Close disconnects and releases the hub registration. The bus itself is
// left to its owner.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Disconnect()
		m.unsub()
		m.hub.values.stop()
	})
}
