package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/InsulaLabs/ntmirror/bus/memory"
	"github.com/InsulaLabs/ntmirror/codec"
	"github.com/InsulaLabs/ntmirror/config"
	"github.com/InsulaLabs/ntmirror/internal/export"
	"github.com/InsulaLabs/ntmirror/mirror"
	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

type options struct {
	configPath  string
	team        int
	server      string
	logLevel    string
	metricsAddr string
	duration    time.Duration
	format      string
	out         string
	initial     bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("ntmirror", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration (defaults to a simulated team 1234)")
	flagSet.IntVar(&opts.team, "team", 0, "team number to connect to, overrides the configuration")
	flagSet.StringVar(&opts.server, "server", "", "explicit server host, wins over --team")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.DurationVarP(&opts.duration, "duration", "d", 0, "recording window (default from configuration)")
	flagSet.StringVarP(&opts.format, "format", "f", "json", "recording output format: json, yaml or cbor")
	flagSet.StringVarP(&opts.out, "out", "o", "", "write the recording to this file instead of stdout")
	flagSet.BoolVar(&opts.initial, "initial", false, "start recordings with the current value of each topic")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return errors.New("no command given")
	}
	command, cmdArgs := rest[0], rest[1:]

	if command == "config" {
		data, err := config.GenerateConfig().Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(logger, cfg.Metrics.Addr, reg)
		defer shutdown()
	}

	network := memory.NewNetwork()
	if _, err := startRobot(ctx, logger, network, cfg); err != nil {
		return err
	}

	client := memory.NewClient(network, memory.ClientConfig{Logger: logger})
	defer client.Close()

	m, err := mirror.New(logger, cfg.ManagerConfig(client, reg))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Configure(cfg.Target()); err != nil {
		return err
	}
	if err := m.WaitConnected(ctx, cfg.Connection.SettleTimeout); err != nil {
		return err
	}

	switch command {
	case "info":
		return printInfo(os.Stdout, m)
	case "topics":
		prefix := ""
		if len(cmdArgs) > 0 {
			prefix = cmdArgs[0]
		}
		return printTopics(os.Stdout, m, prefix)
	case "get":
		if len(cmdArgs) == 0 {
			return errors.New("get needs at least one topic")
		}
		return printValues(os.Stdout, m, cmdArgs)
	case "set":
		if len(cmdArgs) != 2 {
			return errors.New("set needs a topic and a value")
		}
		return setValue(os.Stdout, m, cmdArgs[0], cmdArgs[1])
	case "record":
		if len(cmdArgs) == 0 {
			return errors.New("record needs at least one prefix")
		}
		return record(ctx, m, &opts, cmdArgs)
	}
	printUsage(flagSet)
	return fmt.Errorf("unknown command %q", command)
}

func loadConfig(opts *options) (*config.Mirror, error) {
	var cfg *config.Mirror
	if opts.configPath == "" {
		cfg = config.GenerateConfig()
	} else {
		var err error
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.team != 0 {
		cfg.Connection.Team = opts.team
		cfg.Simulation.Team = opts.team
	}
	if opts.server != "" {
		cfg.Connection.Server = opts.server
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	return cfg, cfg.Validate()
}

// newLogger puts slog on charmbracelet/log. Both use the same numeric
// levels.
func newLogger(level slog.Level) *slog.Logger {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "ntmirror",
	})
	return slog.New(handler)
}

func serveMetrics(logger *slog.Logger, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics listener failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printInfo(w io.Writer, m *mirror.Manager) error {
	info := m.ConnectionInfo()
	state := color.RedString("disconnected")
	if info.Connected {
		state = color.GreenString("connected")
	}
	fmt.Fprintf(w, "%s %s (%d peer)\n", color.CyanString("Connection:"), state, info.ConnectionCount)
	for _, p := range info.Connections {
		fmt.Fprintf(w, "  %s %s:%d protocol %#04x\n", color.YellowString(p.RemoteID), p.RemoteIP, p.RemotePort, p.ProtocolVersion)
	}

	ts := m.TimeSyncInfo()
	if ts.Valid {
		fmt.Fprintf(w, "%s ping %s drift %s\n", color.CyanString("Time sync:"),
			time.Duration(ts.Ping)*time.Microsecond, time.Duration(ts.Drift)*time.Microsecond)
	} else {
		fmt.Fprintf(w, "%s %s\n", color.CyanString("Time sync:"), color.RedString("not synchronized"))
	}

	fmt.Fprintf(w, "%s %d\n", color.CyanString("Topics:"), len(m.ListTopics("")))
	return nil
}

func printTopics(w io.Writer, m *mirror.Manager, prefix string) error {
	for _, t := range m.Topics(prefix) {
		line := fmt.Sprintf("%s %s", color.CyanString(t.Name), color.YellowString(t.Type))
		if len(t.Properties) > 0 {
			props, err := json.Marshal(t.Properties)
			if err != nil {
				return err
			}
			line += " " + string(props)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printValues(w io.Writer, m *mirror.Manager, names []string) error {
	values := m.GetValues(names)
	for _, name := range names {
		rec, ok := values[name]
		if !ok {
			fmt.Fprintf(w, "%s %s\n", color.CyanString(name), color.RedString("no value"))
			continue
		}
		fmt.Fprintf(w, "%s %s = %v (changed %s)\n", color.CyanString(name), color.YellowString(rec.Type), rec.Value, rec.LastChange)
	}
	return nil
}

// setValue takes the value as JSON, falling back to a plain string.
func setValue(w io.Writer, m *mirror.Manager, name, raw string) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		value = raw
	}

	ok, err := m.SetValue(name, value)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "%s %s\n", color.CyanString(name), color.RedString("write rejected"))
		return nil
	}
	fmt.Fprintf(w, "%s %s\n", color.CyanString(name), color.GreenString("written"))
	return nil
}

func record(ctx context.Context, m *mirror.Manager, opts *options, prefixes []string) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	var recOpts []mirror.RecordOption
	if opts.initial {
		recOpts = append(recOpts, mirror.WithInitialValues())
	}

	started := time.Now()
	topics, err := m.Subscribe(ctx, prefixes, opts.duration, recOpts...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	dump := export.Recording{
		Session:  uuid.NewString(),
		Prefixes: prefixes,
		Started:  codec.FormatMicros(started.UnixMicro()),
		Duration: time.Since(started).Round(time.Millisecond).String(),
		Topics:   topics,
	}

	w := io.Writer(os.Stdout)
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := export.Write(w, format, dump); err != nil {
		return err
	}

	if opts.out != "" {
		names := make([]string, 0, len(topics))
		total := 0
		for name, recs := range topics {
			names = append(names, name)
			total += len(recs)
		}
		sort.Strings(names)
		fmt.Fprintf(os.Stderr, "%s %d values over %d topics to %s\n",
			color.GreenString("Recorded"), total, len(names), opts.out)
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "  %s %d\n", color.CyanString(name), len(topics[name]))
		}
	}
	return nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ntmirror mirrors a NetworkTables bus served by a simulated robot.

Usage:
  ntmirror [flags] <command> [args]

Commands:
  config                 print a starting configuration
  info                   connection, time sync and topic count
  topics [prefix]        list topics with type and properties
  get <topic>...         print the latest value of each topic
  set <topic> <value>    write a value given as JSON (bare text is a string)
  record <prefix>...     record every update under the prefixes

Flags:
%s`, flagSet.FlagUsages())
}
