// Package memory is an in-process NetworkTables bus. A Server plays the robot,
// a Network maps addresses to servers and a Client implements bus.Bus against
// them with the same asynchronous behavior as a networked client.
package memory

import (
	"errors"
	"net"
	"strconv"
	"sync"
)

var (
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrTypeConflict  = errors.New("topic already published with another type")
	ErrAddressInUse  = errors.New("address already in use")
	ErrEmptyTopicKey = errors.New("topic name cannot be empty")
	ErrUnknownType   = errors.New("unsupported topic type")
)

// Network is the set of reachable servers keyed by host and port.
type Network struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

func NewNetwork() *Network {
	return &Network{servers: make(map[string]*Server)}
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Listen makes s reachable at host:port. A server may listen on several
// addresses, as a robot answers on its team address and its mDNS name.
func (n *Network) Listen(host string, port int, s *Server) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := address(host, port)
	if existing, ok := n.servers[addr]; ok && existing != s {
		return ErrAddressInUse
	}
	n.servers[addr] = s
	return nil
}

func (n *Network) Remove(host string, port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, address(host, port))
}

func (n *Network) lookup(host string, port int) (*Server, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.servers[address(host, port)]
	return s, ok
}
