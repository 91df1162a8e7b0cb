// Command audit runs one audit against an account and writes the bundle to
// stdout or a file. Useful for one-shot runs and CI smoke checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andzen/prospect-audit/internal/audit"
	"github.com/andzen/prospect-audit/internal/config"
	"github.com/andzen/prospect-audit/internal/klaviyo"
	"github.com/andzen/prospect-audit/internal/ratelimit"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to config file")
		days       = flag.Int("days", 0, "audit window in days (default from config)")
		start      = flag.String("start", "", "explicit window start (ISO-8601)")
		end        = flag.String("end", "", "explicit window end (ISO-8601)")
		industry   = flag.String("industry", "", "benchmark industry override")
		fast       = flag.Bool("fast", false, "skip list growth, form performance and flow deep dives")
		out        = flag.String("out", "", "write the bundle to this file instead of stdout")
		verbose    = flag.Bool("v", false, "log progress to stderr")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	client := klaviyo.NewClient(klaviyo.Config{
		APIKey:  cfg.Klaviyo.APIKey,
		BaseURL: cfg.Klaviyo.BaseURL,
		Tier:    ratelimit.Tier(cfg.Klaviyo.RateTier),
		Timeout: time.Duration(cfg.Klaviyo.TimeoutSeconds) * time.Second,
	})

	orchestrator := audit.New(client, nil)
	if *verbose {
		orchestrator.Progress = func(stage, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", stage, message)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := audit.Options{
		Days:            *days,
		Start:           *start,
		End:             *end,
		GrowthMonths:    cfg.Audit.GrowthMonths,
		Industry:        *industry,
		FastMode:        *fast || cfg.Audit.FastMode,
		VerboseProgress: *verbose,
	}
	if opts.Days == 0 {
		opts.Days = cfg.Audit.WindowDays
	}
	if opts.Industry == "" {
		opts.Industry = cfg.Audit.Industry
	}

	bundle, err := orchestrator.Run(ctx, opts)
	if err != nil {
		log.Fatalf("Audit failed: %v", err)
	}
	if bundle.Partial {
		fmt.Fprintln(os.Stderr, "warning: audit cancelled, bundle is partial")
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		log.Fatalf("Encoding bundle: %v", err)
	}

	if *out == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Writing %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "bundle written to %s\n", *out)
}
