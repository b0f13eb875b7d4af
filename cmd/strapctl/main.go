package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/strapctl/internal/ble"
	"github.com/chaz8081/strapctl/internal/config"
	"github.com/chaz8081/strapctl/internal/hotkey"
	"github.com/chaz8081/strapctl/internal/sink"
	"github.com/chaz8081/strapctl/internal/telemetry"
)

const usage = `usage: strapctl <command> [flags]

commands:
  scan          list nearby straps
  run           connect and stream readings until interrupted
  history       download stored history into history.output_dir
  sync-clock    set the strap clock to the host time
  init-config   write a default config file

flags:
`

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	// CLI flags
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to config file (default: ~/.config/strapctl/config.yaml)")
	address := fs.String("address", "", "strap address, skips scanning")
	fs.Parse(os.Args[2:])

	if cmd == "init-config" {
		if err := initConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		err = runScan(ctx, cfg)
	case "run":
		err = runSession(ctx, cfg)
	case "history":
		err = runHistory(ctx, cfg)
	case "sync-clock":
		err = runSyncClock(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults
	return config.Default(), nil
}

func initConfig(path string) error {
	var (
		written string
		err     error
	)
	if path == "" {
		written, err = config.WriteDefault()
	} else {
		written, err = config.WriteDefaultAt(path)
	}
	if err != nil {
		return err
	}
	if written == "" {
		fmt.Println("Config file already exists, leaving it untouched")
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", written)
	return nil
}

// clientOptions maps the config onto the BLE client.
func clientOptions(cfg *config.Config) ble.ClientOptions {
	return ble.ClientOptions{
		NamePrefix:          cfg.Device.NamePrefix,
		Address:             cfg.Device.Address,
		ScanTimeout:         cfg.Device.ScanTimeout,
		BatteryPollInterval: cfg.Session.BatteryPollInterval,
		SyncClockOnConnect:  cfg.Session.SyncClockOnConnect,
		ClockSettleDelay:    cfg.Session.ClockSettleDelay,
		MetadataTimeout:     cfg.Session.MetadataTimeout,
	}
}

// hotkeyBindings maps the config onto hotkey bindings.
func hotkeyBindings(cfg *config.Config) []hotkey.Binding {
	return []hotkey.Binding{
		{Action: hotkey.ActionToggleRealtime, Keys: cfg.Hotkey.ToggleRealtime},
		{Action: hotkey.ActionDownloadHistory, Keys: cfg.Hotkey.DownloadHistory},
		{Action: hotkey.ActionSyncClock, Keys: cfg.Hotkey.SyncClock},
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	target := cfg.Device.Address
	if target == "" {
		target = fmt.Sprintf("first %q found (scan %s)", cfg.Device.NamePrefix, cfg.Device.ScanTimeout)
	}
	fmt.Println("=== strapctl ===")
	fmt.Printf("  Strap:     %s\n", target)
	fmt.Printf("  Battery:   every %s\n", cfg.Session.BatteryPollInterval)
	fmt.Printf("  History:   %s\n", cfg.History.OutputDir)
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkeys:   realtime %s, history %s, clock %s\n",
			strings.Join(cfg.Hotkey.ToggleRealtime, "+"),
			strings.Join(cfg.Hotkey.DownloadHistory, "+"),
			strings.Join(cfg.Hotkey.SyncClock, "+"))
	}
	if cfg.Reconnect.Enabled {
		fmt.Printf("  Reconnect: backoff up to %s\n", cfg.Reconnect.MaxBackoff)
	}
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func runScan(ctx context.Context, cfg *config.Config) error {
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), cfg.Device.NamePrefix, cfg.Device.ScanTimeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Printf("No devices advertising %q found\n", cfg.Device.NamePrefix)
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-20s %-24s %4d dBm\n", d.Address, d.Name, d.RSSI)
	}
	return nil
}

// telemetrySinks builds the observers configured under telemetry. The
// returned cleanup flushes and closes them; runners must be started by the
// caller.
func telemetrySinks(cfg *config.Config) (ble.Observers, []*telemetry.Forwarder, func(), error) {
	var (
		observers  ble.Observers
		forwarders []*telemetry.Forwarder
		closers    []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("[TELEMETRY] Close failed", "error", err)
			}
		}
	}

	if path := cfg.Telemetry.RecordPath; path != "" {
		rec, err := telemetry.OpenRecorder(path)
		if err != nil {
			return nil, nil, cleanup, err
		}
		observers = append(observers, rec)
		closers = append(closers, rec.Close)
		slog.Info("[TELEMETRY] Recording readings", "path", path)
	}

	if url := cfg.Telemetry.NATSURL; url != "" {
		pub, err := telemetry.NewNATSPublisher(url)
		if err != nil {
			return nil, nil, cleanup, err
		}
		f := telemetry.NewNATSForwarder(pub, cfg.Telemetry.NATSSubject)
		observers = append(observers, f)
		forwarders = append(forwarders, f)
		closers = append(closers, pub.Close)
		slog.Info("[TELEMETRY] Forwarding to NATS", "url", url, "subject", cfg.Telemetry.NATSSubject)
	}

	if broker := cfg.Telemetry.MQTTBroker; broker != "" {
		pub, err := telemetry.NewMQTTPublisher(broker, cfg.Telemetry.MQTTClientID)
		if err != nil {
			return nil, nil, cleanup, err
		}
		f := telemetry.NewMQTTForwarder(pub, cfg.Telemetry.MQTTTopic)
		observers = append(observers, f)
		forwarders = append(forwarders, f)
		closers = append(closers, pub.Close)
		slog.Info("[TELEMETRY] Forwarding to MQTT", "broker", broker, "topic", cfg.Telemetry.MQTTTopic)
	}

	return observers, forwarders, cleanup, nil
}

func runSession(ctx context.Context, cfg *config.Config) error {
	printBanner(cfg)

	sinks, forwarders, closeSinks, err := telemetrySinks(cfg)
	defer closeSinks()
	if err != nil {
		return err
	}

	// Forwarders flush on cancel; wait for them before closing publishers.
	fwdCtx, stopForwarders := context.WithCancel(context.Background())
	fwdDone := make(chan struct{}, len(forwarders))
	for _, f := range forwarders {
		go func(f *telemetry.Forwarder) {
			f.Run(fwdCtx)
			fwdDone <- struct{}{}
		}(f)
	}
	defer func() {
		stopForwarders()
		for range forwarders {
			<-fwdDone
		}
	}()

	watch := newLinkWatcher()
	observers := append(ble.Observers{newPrinter(os.Stdout), watch}, sinks...)
	client := ble.NewClient(ble.NewTinyGoAdapter(), observers, clientOptions(cfg))

	if err := client.Connect(ctx); err != nil {
		if !cfg.Reconnect.Enabled || ctx.Err() != nil {
			return err
		}
		slog.Warn("[BLE] Initial connect failed, retrying", "error", err)
		if err := client.Reconnect(ctx, cfg.Reconnect.MaxBackoff); err != nil {
			return err
		}
	}
	defer client.Disconnect()

	var events <-chan hotkey.Event
	if cfg.Hotkey.Enabled {
		listener, err := hotkey.NewListener(hotkeyBindings(cfg))
		if err != nil {
			return err
		}
		go listener.Start()
		defer listener.Stop()
		events = listener.Events()
	}

	fmt.Println("Ready! Ctrl+C to quit.")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Shutting down...")
			return nil

		case <-watch.lost:
			if !cfg.Reconnect.Enabled {
				return errors.New("link to strap lost")
			}
			slog.Info("[BLE] Link lost, reconnecting")
			if err := client.Reconnect(ctx, cfg.Reconnect.MaxBackoff); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}

		case ev, ok := <-events:
			if !ok {
				slog.Info("Hotkey listener stopped")
				events = nil
				continue
			}
			handleAction(ctx, client, cfg, ev.Action)
		}
	}
}

// handleAction runs a hotkey action. Long operations run in the
// background so the event loop keeps serving link loss and shutdown.
func handleAction(ctx context.Context, client *ble.Client, cfg *config.Config, action hotkey.Action) {
	slog.Debug("Hotkey pressed", "action", action)
	switch action {
	case hotkey.ActionToggleRealtime:
		on, err := client.ToggleRealtime()
		if err != nil {
			slog.Error("Toggle realtime failed", "error", err)
			return
		}
		slog.Info("Realtime heart rate", "enabled", on)

	case hotkey.ActionDownloadHistory:
		go func() {
			if _, err := client.DownloadHistory(ctx, sink.NewFileSink(cfg.History.OutputDir)); err != nil {
				// The client already reported the failure through OnError.
				slog.Debug("History download ended", "error", err)
			}
		}()

	case hotkey.ActionSyncClock:
		go func() {
			if err := client.SyncClock(ctx); err != nil {
				slog.Error("Clock sync failed", "error", err)
			}
		}()
	}
}

// connectOnce builds a client with a printer observer and connects it,
// for the one-shot commands.
func connectOnce(ctx context.Context, cfg *config.Config, extra ...ble.Observer) (*ble.Client, error) {
	observers := append(ble.Observers{newPrinter(os.Stdout)}, extra...)
	client := ble.NewClient(ble.NewTinyGoAdapter(), observers, clientOptions(cfg))
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func runHistory(ctx context.Context, cfg *config.Config) error {
	client, err := connectOnce(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	start := time.Now()
	report, err := client.DownloadHistory(ctx, sink.NewFileSink(cfg.History.OutputDir))
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s in %s\n", report, time.Since(start).Round(time.Millisecond))
	if report.Digest != "" {
		fmt.Printf("BLAKE2b-256 %s\n", report.Digest)
	}
	return nil
}

func runSyncClock(ctx context.Context, cfg *config.Config) error {
	// SyncClock below does the handshake; skip the one on connect.
	cfg.Session.SyncClockOnConnect = false

	clock := newClockWaiter()
	client, err := connectOnce(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.SyncClock(ctx); err != nil {
		return err
	}

	unix, ok, err := clock.wait(ctx, 5*time.Second)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Clock set, strap did not report it back")
		return nil
	}
	fmt.Printf("Strap clock now %s\n", time.Unix(int64(unix), 0).Format(time.RFC3339))
	return nil
}
