// sensorbridge - resilient question answering over embedded sensor fleets.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/sensorbridge/internal/cache"
	"github.com/jeranaias/sensorbridge/internal/config"
	"github.com/jeranaias/sensorbridge/internal/connector"
	"github.com/jeranaias/sensorbridge/internal/llm"
	"github.com/jeranaias/sensorbridge/internal/pipeline"
	"github.com/jeranaias/sensorbridge/internal/transport"
	"github.com/jeranaias/sensorbridge/internal/usage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a config file (default: ~/.sensorbridge/config.{toml,json})")
		timeout     = flag.Duration("timeout", 2*time.Minute, "overall deadline for answering the question")
		jsonOut     = flag.Bool("json", false, "print the full result as JSON")
		diagnose    = flag.Bool("diagnose", false, "check API and device health and exit")
		showUsage   = flag.Bool("usage", false, "print the usage ledger summary and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
		watchConfig = flag.Bool("watch-config", false, "hot-reload the config file while running")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sensorbridge %s (%s)\n", Version, GitCommit)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	config.SetGlobal(cfg)

	if *watchConfig {
		w, err := config.NewWatcher(0, nil)
		if err != nil {
			log.Printf("[main] Config watching unavailable: %v", err)
		} else if err := w.Watch(); err != nil {
			log.Printf("[main] Config watching unavailable: %v", err)
		} else {
			defer w.Close()
		}
	}

	var ledger *usage.Ledger
	if cfg.Usage.LedgerPath != "" {
		ledger, err = usage.OpenLedger(cfg.Usage.LedgerPath)
		if err != nil {
			log.Printf("[main] Usage ledger unavailable: %v", err)
			ledger = nil
		} else {
			defer ledger.Close()
		}
	}

	if *showUsage {
		printUsageSummary(ledger)
		return
	}

	if *diagnose {
		printDiagnostics(cfg)
		return
	}

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: sensorbridge [flags] <question about your sensors>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result := buildPipeline(cfg, ledger).Run(ctx, query)

	if *jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(result.Response)
		if result.Verification.Status != pipeline.VerifiedOK {
			for _, f := range result.Verification.Flags {
				fmt.Fprintf(os.Stderr, "note: %s\n", f)
			}
		}
	}

	if !result.Success {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newAPIClient(cfg *config.Config) *transport.Client {
	return transport.NewClient(cfg.API.BaseURL,
		transport.WithTimeout(time.Duration(cfg.API.TimeoutSeconds)*time.Second),
		transport.WithMaxRetries(cfg.API.MaxRetries),
		transport.WithRateLimit(cfg.API.RateLimitPerSecond, cfg.API.RateLimitBurst),
	)
}

// buildPipeline assembles the component graph from configuration.
func buildPipeline(cfg *config.Config, ledger *usage.Ledger) *pipeline.Pipeline {
	conn := connector.New(newAPIClient(cfg))

	results := cache.New(
		time.Duration(cfg.Cache.SuccessTTLSeconds)*time.Second,
		time.Duration(cfg.Cache.FailureTTLSeconds)*time.Second,
	)

	tracker := usage.NewTracker(cfg.Usage.Limits, cfg.Usage.StatePath, ledger)

	chat := llm.NewClient(cfg.LLM.GroqKey).
		WithModel(cfg.LLM.Model).
		WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second)

	return pipeline.New(conn, results, tracker, chat)
}

// printDiagnostics runs the acquisition health check: API
// reachability plus whatever the device discovery cascade can still
// account for.
func printDiagnostics(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := connector.New(newAPIClient(cfg)).Diagnostics(ctx)
	if d.APIReachable {
		fmt.Printf("API %s: reachable\n", cfg.API.BaseURL)
	} else {
		fmt.Printf("API %s: UNREACHABLE (%s)\n", cfg.API.BaseURL, d.APIError)
	}
	if len(d.Devices) == 0 {
		fmt.Println("No devices discovered.")
	}
	for _, dev := range d.Devices {
		fmt.Printf("  %-20s %-15s via %s\n", dev.DeviceID, dev.Status, dev.Method)
	}
	if !d.APIReachable {
		os.Exit(1)
	}
}

func printUsageSummary(ledger *usage.Ledger) {
	if ledger == nil {
		fmt.Println("No usage ledger configured.")
		return
	}
	rows, err := ledger.Summary(context.Background(), 30)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No archived usage yet.")
		return
	}
	for _, r := range rows {
		fmt.Printf("%s  %-28s %6d requests  %10d tokens\n", r.Day, r.Model, r.Requests, r.Tokens)
	}
}
