package memory

import (
	"slices"
	"strings"
	"sync"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/models"
)

type poller struct {
	client   *Client
	prefixes []string
	opts     bus.SubscribeOptions

	mu     sync.Mutex
	queue  []models.ValueEvent
	closed bool
}

var _ bus.Poller = (*poller)(nil)

func (p *poller) matches(name string) bool {
	return slices.ContainsFunc(p.prefixes, func(prefix string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

// offer queues ev if it matches. Without SendAll a newer value for a topic
// replaces the one still waiting in the queue.
func (p *poller) offer(ev models.ValueEvent) {
	if !p.matches(ev.Topic) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if !p.opts.SendAll {
		if i := slices.IndexFunc(p.queue, func(q models.ValueEvent) bool { return q.Topic == ev.Topic }); i >= 0 {
			p.queue[i] = ev
			return
		}
	}
	p.queue = append(p.queue, ev)
}

func (p *poller) ReadQueue() ([]models.ValueEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, bus.ErrClosed
	}
	out := p.queue
	p.queue = nil
	return out, nil
}

func (p *poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	p.mu.Unlock()

	p.client.removePoller(p)
	return nil
}

// Pollers reports how many pollers are open.
func (c *Client) Pollers() int {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return len(c.pollers)
}
