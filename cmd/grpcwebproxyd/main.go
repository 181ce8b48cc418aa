package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mickamy/grpcwebproxyd/internal/config"
	"github.com/mickamy/grpcwebproxyd/internal/metrics"
	"github.com/mickamy/grpcwebproxyd/internal/proxy"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("grpcwebproxyd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "grpcwebproxyd — gRPC/gRPC-Web translating reverse proxy\n\nUsage:\n  grpcwebproxyd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	var configPath string
	fs.StringVar(&configPath, "config", "default_config.yaml", "path to the YAML config file")
	fs.StringVar(&configPath, "c", "default_config.yaml", "shorthand for --config")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("grpcwebproxyd %s\n", version)
		return
	}

	if err := run(configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	initial, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("initial config load: %w", err)
	}

	store := config.NewStore(initial)
	sup := proxy.NewSupervisor(metrics.New())

	if err := sup.LoadListener(store.Get()); err != nil {
		return fmt.Errorf("bind initial listener: %w", err)
	}
	log.Printf("proxying %s -> %s", store.Get().ListenAddress(), store.Get().TargetAuthority())

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watchReloads(store, sup, watcher.Reloads())

	<-ctx.Done()
	log.Printf("shutting down")
	return sup.Shutdown()
}

// watchReloads applies each config the watcher emits, skipping reloads
// that are equal in value to the store's current snapshot (SPEC_FULL.md
// §8 property 4 — equal-value reload is a no-op).
func watchReloads(store *config.Store, sup *proxy.Supervisor, reloads <-chan config.Config) {
	for next := range reloads {
		if !store.Set(next) {
			continue
		}
		if err := sup.LoadListener(next); err != nil {
			log.Printf("reload %+v: %v", next, err)
			continue
		}
		log.Printf("reloaded: %s -> %s", next.ListenAddress(), next.TargetAuthority())
	}
}
