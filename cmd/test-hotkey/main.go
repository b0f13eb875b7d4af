// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the configured combos to see which strap action each
// one would trigger. No strap is needed.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/strapctl/internal/config"
	"github.com/chaz8081/strapctl/internal/hotkey"
)

func main() {
	configPath := flag.String("config", "", "config file (default: built-in defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	bindings := []hotkey.Binding{
		{Action: hotkey.ActionToggleRealtime, Keys: cfg.Hotkey.ToggleRealtime},
		{Action: hotkey.ActionDownloadHistory, Keys: cfg.Hotkey.DownloadHistory},
		{Action: hotkey.ActionSyncClock, Keys: cfg.Hotkey.SyncClock},
	}
	listener, err := hotkey.NewListener(bindings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, b := range bindings {
		fmt.Printf("  %-18s %s\n", b.Action, strings.Join(b.Keys, "+"))
	}
	fmt.Println("Press Ctrl+C to exit.")

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			fmt.Printf(">>> %s\n", ev.Action)
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
