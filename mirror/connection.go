package mirror

import (
	"context"
	"strings"
	"time"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/pkg/errors"
)

// Highest team number that maps onto a 10.TE.AM.2 address.
const maxTeam = 25599

// Configure tears down any running session and starts a new one against
// target. It returns once the handshake has been started; use WaitConnected
// or ConnectionInfo to learn when the link is up. An invalid target leaves
// the manager disconnected.
func (m *Manager) Configure(target models.ConnectionTarget) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	target = target.WithDefaults()

	m.bus.StopClient()
	m.hub.markDisconnected()

	if err := validateTarget(target); err != nil {
		m.target.Store(nil)
		m.logger.Error("Rejected connection target", "error", err)
		return err
	}

	mode := target.Mode()
	switch mode {
	case models.ResolutionServer:
		m.bus.SetServer(target.Server, target.Port)
	case models.ResolutionTeam:
		m.bus.SetServerTeam(target.Team, target.Port)
	}

	if err := m.bus.StartClient(target.Identity); err != nil {
		m.target.Store(nil)
		m.logger.Error("Could not start client", "error", err)
		return errors.Wrapf(ErrConfiguration, "starting client: %v", err)
	}
	m.target.Store(&target)

	m.logger.Info("Connection configured",
		"mode", mode,
		"team", target.Team,
		"server", target.Server,
		"port", target.Port,
		"identity", target.Identity)
	return nil
}

func validateTarget(t models.ConnectionTarget) error {
	switch t.Mode() {
	case models.ResolutionNone:
		if t.Team < 0 {
			return errors.Wrapf(ErrConfiguration, "team %d is negative", t.Team)
		}
		return errors.Wrap(ErrConfiguration, "either a team or a server is required")
	case models.ResolutionServer:
		if strings.ContainsAny(t.Server, " \t\r\n") {
			return errors.Wrapf(ErrConfiguration, "server %q contains whitespace", t.Server)
		}
	case models.ResolutionTeam:
		if t.Team > maxTeam {
			return errors.Wrapf(ErrConfiguration, "team %d is out of range", t.Team)
		}
	}
	if t.Port < 1 || t.Port > 65535 {
		return errors.Wrapf(ErrConfiguration, "port %d is out of range", t.Port)
	}
	return nil
}

// Disconnect stops the running session, if any.
func (m *Manager) Disconnect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.bus.StopClient()
	if m.hub.isConnected() {
		m.logger.Info("Disconnecting")
	}
	m.hub.markDisconnected()
}

// ConnectionInfo is a snapshot of the link state. It never waits on the
// network.
func (m *Manager) ConnectionInfo() models.ConnectionInfo {
	peers := m.bus.Connections()
	info := models.ConnectionInfo{
		Connected:       m.hub.isConnected(),
		ConnectionCount: len(peers),
		Connections:     peers,
	}
	if info.Connections == nil {
		info.Connections = []models.PeerInfo{}
	}
	if t := m.target.Load(); t != nil {
		info.Config = *t
	}
	return info
}

// WaitConnected polls the connection state until the link is up with at
// least one peer, the timeout passes or ctx is cancelled.
func (m *Manager) WaitConnected(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if m.hub.isConnected() && len(m.bus.Connections()) > 0 {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.Wrapf(ErrNotConnected, "no connection after %s", timeout)
		case <-ticker.C:
		}
	}
}

func (m *Manager) TimeSyncInfo() models.TimeSyncInfo {
	return m.hub.timeSync.get()
}
