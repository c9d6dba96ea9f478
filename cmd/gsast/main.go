package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seznam/gsast-go/internal/api"
	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/coordinator"
	"github.com/seznam/gsast-go/internal/maintenance"
	"github.com/seznam/gsast-go/internal/metrics"
	"github.com/seznam/gsast-go/internal/plugins"
	"github.com/seznam/gsast-go/internal/results"
	"github.com/seznam/gsast-go/internal/rules"
	"github.com/seznam/gsast-go/internal/store"
	"github.com/seznam/gsast-go/internal/tasks"
	"github.com/seznam/gsast-go/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "worker":
		runWorker(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`gsast - distributed static-analysis scan orchestrator

Usage:
  gsast <command> [options]

Commands:
  serve    Start the control-plane API
  worker   Start a worker process (job processing)

Options:
  -config string   Path to config file (default "config.yaml")

Examples:
  gsast serve -config config.yaml
  gsast worker -config config.yaml`)
}

func registry() *plugins.Registry {
	r := plugins.NewRegistry()
	for _, p := range []plugins.Plugin{plugins.NewSemgrep(), plugins.NewTrufflehog(), plugins.NewDependencyConfusion()} {
		if err := r.Register(p); err != nil {
			log.Fatalf("register plugin: %v", err)
		}
	}
	return r
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := os.MkdirAll(cfg.TempRoot, 0o755); err != nil {
		log.Fatalf("failed to create temp root: %v", err)
	}

	st, err := store.Open(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer st.Close()

	tasksQ := tasks.New(st.Tasks)
	reg := registry()
	srv := api.New(cfg, st, tasksQ, reg)

	metrics.Register(coordinator.NewAdmin(st), tasksQ)

	gc := maintenance.New(cfg.TempRoot, coordinator.NewAdmin(st), 24*time.Hour)
	if err := gc.Start("0 * * * *"); err != nil {
		log.Fatalf("failed to start maintenance GC: %v", err)
	}
	defer gc.Stop()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("starting gsast control plane on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	log.Println("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := os.MkdirAll(cfg.TempRoot, 0o755); err != nil {
		log.Fatalf("failed to create temp root: %v", err)
	}

	st, err := store.Open(cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer st.Close()

	deps := worker.Deps{
		Tasks:      tasks.New(st.Tasks),
		Registry:   registry(),
		Results:    results.New(st.Scans),
		RulesNS:    st.Rules,
		RulesCache: rules.NewCache(cfg.TempRoot),
		TempRoot:   cfg.TempRoot,
		Env:        config.LoadEnv(),
	}

	id := fmt.Sprintf("worker-%d", os.Getpid())
	w := worker.New(id, deps, cfg.Worker.Concurrency)
	w.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	<-done
	log.Println("shutting down, waiting for in-flight jobs...")
	w.Stop()
}
