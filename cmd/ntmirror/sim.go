package main

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/InsulaLabs/ntmirror/bus"
	"github.com/InsulaLabs/ntmirror/bus/memory"
	"github.com/InsulaLabs/ntmirror/codec"
	"github.com/InsulaLabs/ntmirror/config"
	"github.com/InsulaLabs/ntmirror/models"
	"github.com/pkg/errors"
)

const simTick = 20 * time.Millisecond

// simulatedRobot stands in for a robot on the in-process network. It answers
// on the address the configuration points at and publishes a small set of
// telemetry topics until its context ends.
type simulatedRobot struct {
	server *memory.Server
	logger *slog.Logger
}

func startRobot(ctx context.Context, logger *slog.Logger, network *memory.Network, cfg *config.Mirror) (*simulatedRobot, error) {
	host := cfg.Connection.Server
	if host == "" {
		addrs := bus.ResolveTeam(cfg.Simulation.Team)
		if len(addrs) == 0 {
			return nil, errors.Errorf("simulation team %d has no address", cfg.Simulation.Team)
		}
		host = addrs[0]
	}

	srv := memory.NewServer(memory.ServerConfig{
		Name:        "simulated-robot",
		Ping:        cfg.Simulation.Ping,
		ClockOffset: cfg.Simulation.Drift,
		Logger:      logger,
	})
	if err := network.Listen(host, cfg.Connection.Port, srv); err != nil {
		return nil, errors.Wrapf(err, "listening on %s:%d", host, cfg.Connection.Port)
	}

	r := &simulatedRobot{server: srv, logger: logger.WithGroup("sim")}
	if err := r.announce(); err != nil {
		return nil, err
	}
	go r.run(ctx)

	r.logger.Info("Simulated robot listening", "host", host, "port", cfg.Connection.Port)
	return r, nil
}

func (r *simulatedRobot) announce() error {
	topics := []struct {
		name  string
		typ   string
		props map[string]any
	}{
		{"/FMSInfo/IsRedAlliance", "boolean", map[string]any{"persistent": false}},
		{"/FMSInfo/MatchNumber", "int", nil},
		{"/SmartDashboard/Mode", "string", nil},
		{"/SmartDashboard/Drive/Speeds", "double[]", map[string]any{"unit": "m/s"}},
		{"/SmartDashboard/Arm/Angle", "double", map[string]any{"unit": "deg"}},
		{"/Robot/Uptime", "double", nil},
	}
	for _, t := range topics {
		if err := r.server.Announce(t.name, t.typ, t.props); err != nil {
			return errors.Wrapf(err, "announcing %s", t.name)
		}
	}

	r.server.Publish("/FMSInfo/IsRedAlliance", models.BooleanValue(true))
	r.server.Publish("/FMSInfo/MatchNumber", models.IntegerValue(42))
	r.server.Publish("/SmartDashboard/Mode", models.StringValue("disabled"))
	return nil
}

func (r *simulatedRobot) run(ctx context.Context) {
	ticker := time.NewTicker(simTick)
	defer ticker.Stop()

	start := time.Now()
	modes := []string{"disabled", "autonomous", "teleop"}
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		up := time.Since(start).Seconds()
		r.server.Publish("/Robot/Uptime", models.DoubleValue(up))
		r.server.Publish("/SmartDashboard/Arm/Angle", models.DoubleValue(45+30*math.Sin(up)))
		r.server.Publish("/SmartDashboard/Drive/Speeds", codec.MustEncode([]float64{
			math.Round(2*math.Cos(up)*100) / 100,
			math.Round(2*math.Sin(up)*100) / 100,
		}))
		if n%100 == 0 {
			r.server.Publish("/SmartDashboard/Mode", models.StringValue(modes[(n/100)%len(modes)]))
		}
	}
}
