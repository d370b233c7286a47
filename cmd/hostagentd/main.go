// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"hostagent/agentconfig"
	"hostagent/auditlog"
	"hostagent/commit"
	"hostagent/datastore"
	"hostagent/hostconfig"
	"hostagent/logger"
	"hostagent/metricsserver"
	"hostagent/offlineinit"
	"hostagent/servicing/executor"
	"hostagent/servicing/subsystem"
	"hostagent/servicing/subsystems/boot"
	"hostagent/servicing/subsystems/image"
	"hostagent/servicing/subsystems/osconfig"
	"hostagent/servicing/subsystems/preflight"
	"hostagent/servicing/subsystems/scripts"
	"hostagent/servicing/subsystems/storage"
	"hostagent/status"
	"hostagent/tracing"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to hostagentd config file (YAML)")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("hostagentd version %s\n", version)
		os.Exit(0)
	}

	cfg := loadConfig(*configFile)
	log := logger.New(cfg.LogLevel)

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "apply":
		applyCmd := flag.NewFlagSet("apply", flag.ExitOnError)
		configPath := applyCmd.String("file", "", "Host Configuration file (YAML/JSON)")
		stageOnly := applyCmd.Bool("stage-only", false, "Only run the stage steps, skip finalize")
		applyCmd.Parse(args[1:])
		runApply(cfg, log, *configPath, *stageOnly)

	case "commit":
		runCommit(cfg, log)

	case "status":
		runStatus(cfg, log)

	case "serve":
		runServe(cfg, log)

	case "rebuild-raid":
		raidCmd := flag.NewFlagSet("rebuild-raid", flag.ExitOnError)
		configPath := raidCmd.String("file", "", "Host Configuration file describing the raid_arrays to rebuild")
		raidCmd.Parse(args[1:])
		runRebuildRaid(cfg, log, *configPath)

	case "offline-initialize":
		initCmd := flag.NewFlagSet("offline-initialize", flag.ExitOnError)
		configPath := initCmd.String("file", "", "Host Configuration file describing what the external installer applied")
		activeSide := initCmd.String("active-side", "", "A/B side the external install left active (a, b, or empty for non-A/B)")
		force := initCmd.Bool("force", false, "Overwrite an existing Host Status, recording it as a rollback entry")
		initCmd.Parse(args[1:])
		runOfflineInitialize(cfg, log, *configPath, *activeSide, *force)

	case "help", "-h", "--help":
		showUsage()

	default:
		pterm.Error.Printfln("Unknown command: %s", args[0])
		showUsage()
		os.Exit(1)
	}
}

func loadConfig(path string) *agentconfig.Config {
	if path == "" {
		return agentconfig.FromEnvironment()
	}
	cfg, err := agentconfig.FromFile(path)
	if err != nil {
		pterm.Error.Printfln("Failed to load config file: %v", err)
		os.Exit(1)
	}
	return cfg.MergeWithEnv()
}

// buildRegistry wires every subsystem against its production
// capability provider, in spec §4.3's fixed order. showProgress
// renders a byte-count bar to stderr while images are written; it
// should only be set for an interactive apply invocation.
func buildRegistry(cfg *agentconfig.Config, showProgress bool) *subsystem.Registry {
	imageSub := image.New(cfg, image.DeviceBlockWriter{})
	if showProgress {
		imageSub = imageSub.WithProgress(os.Stderr)
	}
	return subsystem.NewRegistry(
		preflight.New(preflight.NewOSEnvironmentChecker()),
		storage.New(storage.SgdiskOps{}),
		imageSub,
		osconfig.New(osconfig.FileOps{}, osconfig.NetlinkInterfaceLister{}),
		scripts.New(scripts.ChrootRunner{}),
		boot.New(boot.BootctlOps{}),
	)
}

// setupTracing builds the OpenTelemetry provider for this run. It is
// always built, even when disabled, so callers can unconditionally
// defer Shutdown and call Tracer without a nil check: a disabled
// Provider wraps a tracer-provider with no exporter attached.
func setupTracing(cfg *agentconfig.Config) *tracing.Provider {
	tc := tracing.DefaultConfig("hostagentd")
	tc.Enabled = cfg.TracingEnabled
	tc.SamplingRate = cfg.TracingSamplingRate

	provider, err := tracing.NewProvider(tc)
	if err != nil {
		pterm.Warning.Printfln("Failed to start tracing provider: %v", err)
		return &tracing.Provider{}
	}
	return provider
}

func openStore(cfg *agentconfig.Config) *datastore.Store {
	store, err := datastore.Open(cfg.DatastorePath)
	if err != nil {
		pterm.Error.Printfln("Failed to open datastore %s: %v", cfg.DatastorePath, err)
		os.Exit(1)
	}
	return store
}

func runApply(cfg *agentconfig.Config, log logger.Logger, configPath string, stageOnly bool) {
	if configPath == "" {
		pterm.Error.Println("apply requires -file <host-configuration.yaml>")
		os.Exit(1)
	}

	desired, err := hostconfig.FromFile(configPath)
	if err != nil {
		pterm.Error.Printfln("Failed to load Host Configuration: %v", err)
		os.Exit(1)
	}
	if result := desired.Validate(); !result.Valid() {
		pterm.Error.Println("Host Configuration failed validation:")
		for _, e := range result.Errors {
			pterm.Println("  " + e.String())
		}
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	var auditor *auditlog.Log
	if cfg.AuditLogPath != "" {
		auditor, err = auditlog.Open(cfg.AuditLogPath)
		if err != nil {
			pterm.Warning.Printfln("Failed to open audit log %s: %v", cfg.AuditLogPath, err)
		} else {
			defer auditor.Close()
		}
	}

	requested := []hostconfig.Operation{hostconfig.OperationStage}
	if !stageOnly {
		requested = append(requested, hostconfig.OperationFinalize)
	}

	tp := setupTracing(cfg)
	defer tp.Shutdown(context.Background())

	// The progress bar is drawn only when stderr is a terminal.
	showProgress := false
	if fi, statErr := os.Stderr.Stat(); statErr == nil && fi.Mode()&os.ModeCharDevice != 0 {
		showProgress = true
	}

	eng := executor.New(log, buildRegistry(cfg, showProgress), store, cfg.LockPath, executor.RetryPolicy{
		// RetryAttempts counts retries after the first attempt.
		MaxAttempts: cfg.RetryAttempts + 1,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})
	eng.Audit = auditor
	eng.Tracer = tp.Tracer("hostagent/servicing/executor")

	pterm.Info.Println("Applying Host Configuration " + configPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalCancel(cancel)

	hs, runErr := eng.Run(ctx, *desired, requested)
	if hs != nil {
		printStatus(hs)
	}
	if runErr != nil {
		pterm.Error.Printfln("Servicing run failed: %v", runErr)
		os.Exit(1)
	}
	pterm.Success.Println("Servicing run completed")
}

func runCommit(cfg *agentconfig.Config, log logger.Logger) {
	store := openStore(cfg)
	defer store.Close()

	tp := setupTracing(cfg)
	defer tp.Shutdown(context.Background())

	sup := commit.New(log, store, commit.BootctlDetector{}, cfg.RollbackChainLimit)
	sup.Tracer = tp.Tracer("hostagent/commit")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hs, err := sup.Run(ctx)
	if hs != nil {
		printStatus(hs)
	}
	if err != nil {
		pterm.Error.Printfln("Boot-commit check failed: %v", err)
		os.Exit(1)
	}
}

func runStatus(cfg *agentconfig.Config, log logger.Logger) {
	store := openStore(cfg)
	defer store.Close()

	hs, err := store.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load Host Status: %v", err)
		os.Exit(1)
	}
	if hs == nil {
		pterm.Info.Println("Host has never been provisioned")
		return
	}
	printStatus(hs)
}

func runRebuildRaid(cfg *agentconfig.Config, log logger.Logger, configPath string) {
	if configPath == "" {
		pterm.Error.Println("rebuild-raid requires -file <host-configuration.yaml>")
		os.Exit(1)
	}

	desired, err := hostconfig.FromFile(configPath)
	if err != nil {
		pterm.Error.Printfln("Failed to load Host Configuration: %v", err)
		os.Exit(1)
	}
	if result := desired.Validate(); !result.Valid() {
		pterm.Error.Println("Host Configuration failed validation:")
		for _, e := range result.Errors {
			pterm.Println("  " + e.String())
		}
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	hs, err := store.Load()
	if err != nil {
		pterm.Error.Printfln("Failed to load Host Status: %v", err)
		os.Exit(1)
	}
	if hs == nil {
		hs = status.New()
	}

	sub := storage.New(storage.SgdiskOps{})
	activeSide := hs.ActiveVolume
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalCancel(cancel)

	if err := sub.RebuildRaid(ctx, desired, activeSide, hs); err != nil {
		pterm.Error.Printfln("rebuild-raid failed: %v", err)
		os.Exit(1)
	}
	hs.UpdatedAt = time.Now()
	if err := store.Save(hs); err != nil {
		pterm.Error.Printfln("Failed to save Host Status: %v", err)
		os.Exit(1)
	}
	printStatus(hs)
	pterm.Success.Println("RAID arrays rebuilt")
}

func runOfflineInitialize(cfg *agentconfig.Config, log logger.Logger, configPath, activeSide string, force bool) {
	if configPath == "" {
		pterm.Error.Println("offline-initialize requires -file <host-configuration.yaml>")
		os.Exit(1)
	}

	desired, err := hostconfig.FromFile(configPath)
	if err != nil {
		pterm.Error.Printfln("Failed to load Host Configuration: %v", err)
		os.Exit(1)
	}
	if result := desired.Validate(); !result.Valid() {
		pterm.Error.Println("Host Configuration failed validation:")
		for _, e := range result.Errors {
			pterm.Println("  " + e.String())
		}
		os.Exit(1)
	}

	side := status.Side(activeSide)
	switch side {
	case status.SideA, status.SideB, status.SideNone:
	default:
		pterm.Error.Printfln("Invalid -active-side %q: must be a, b, or empty", activeSide)
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	hs, err := offlineinit.Seed(store, offlineinit.Params{
		Configuration:      *desired,
		ActiveVolume:       side,
		Force:              force,
		RollbackChainLimit: cfg.RollbackChainLimit,
	})
	if err != nil {
		pterm.Error.Printfln("offline-initialize failed: %v", err)
		os.Exit(1)
	}
	printStatus(hs)
	pterm.Success.Println("Host Status seeded")
}

func runServe(cfg *agentconfig.Config, log logger.Logger) {
	if cfg.MetricsAddr == "" {
		pterm.Error.Println("serve requires metrics_addr to be configured")
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	tp := setupTracing(cfg)
	defer tp.Shutdown(context.Background())

	srv := metricsserver.New(cfg.MetricsAddr, log, func() *status.HostStatus {
		hs, err := store.Load()
		if err != nil {
			log.Warn("failed to load Host Status for healthz", "error", err)
			return nil
		}
		return hs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalCancel(cancel)

	pterm.Info.Printfln("Serving metrics and healthz on %s", cfg.MetricsAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		pterm.Error.Printfln("Metrics server error: %v", err)
		os.Exit(1)
	}
}

func installSignalCancel(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		pterm.Warning.Println("Received shutdown signal")
		cancel()
	}()
}

func printStatus(hs *status.HostStatus) {
	data := [][]string{
		{"Field", "Value"},
		{"Servicing state", string(hs.ServicingState)},
		{"Active side", string(hs.ActiveVolume)},
		{"Target side", string(hs.TargetVolume)},
	}
	if !hs.UpdatedAt.IsZero() {
		data = append(data, []string{"Last updated", humanize.Time(hs.UpdatedAt)})
	}
	if hs.LastError != nil {
		data = append(data, []string{"Last error", hs.LastError.Kind + ": " + hs.LastError.Message})
	}
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(data).
		Render()
}

func showUsage() {
	pterm.DefaultCenter.Println(pterm.LightYellow("hostagentd") + " - declarative OS lifecycle servicing agent")
	pterm.Println()

	commands := [][]string{
		{"Command", "Description", "Example"},
		{"apply -file", "Stage (and finalize) a Host Configuration", "hostagentd apply -file host.yaml"},
		{"apply -file -stage-only", "Stage only, leave finalize for later", "hostagentd apply -file host.yaml -stage-only"},
		{"commit", "Run the boot-commit check (run on every boot)", "hostagentd commit"},
		{"status", "Print the persisted Host Status", "hostagentd status"},
		{"serve", "Serve /healthz and /metrics over HTTP", "hostagentd serve"},
		{"rebuild-raid -file", "Rebuild software RAID arrays without touching filesystems", "hostagentd rebuild-raid -file host.yaml"},
		{"offline-initialize -file", "Seed Host Status for an externally-installed host", "hostagentd offline-initialize -file host.yaml -active-side a"},
	}
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(commands).
		Render()

	pterm.Info.Println("Global flags: -config <path>, -version")
}
