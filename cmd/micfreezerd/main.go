package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("micfreezerd v%s\n", version)
	fmt.Println("Volume-freeze enforcement daemon for audio endpoints")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  micfreezerd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that pins user-chosen volume levels on selected audio endpoints")
	fmt.Println("  and reverts external changes back to the frozen target. Control it with")
	fmt.Println("  freezerctl over the IPC socket; watch live state with freezer-listen.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; flags override file values)")
	fmt.Println()
	fmt.Println("  -store-dir string")
	fmt.Println("        Settings store directory (default \"~/.local/share/micfreezerd\")")
	fmt.Println()
	fmt.Println("  -backend string")
	fmt.Println("        Device backend: sim (default \"sim\")")
	fmt.Println()
	fmt.Println("  -tick-hz int")
	fmt.Printf("        Housekeeping tick rate in Hz (default %d)\n", defaultTickHz)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -state-ws-port int")
	fmt.Printf("        State websocket listener port (default %d)\n", defaultStateWSPort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults (simulated backend)")
	fmt.Println("  micfreezerd")
	fmt.Println()
	fmt.Println("  # Run against a config file with an IPC socket override")
	fmt.Println("  micfreezerd -config /etc/micfreezerd.yaml -ipc-socket /run/micfreezerd.sock")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		storeDir    = flag.String("store-dir", "", "Settings store directory")
		backendKind = flag.String("backend", "", "Device backend: sim")
		tickHz      = flag.Int("tick-hz", 0, "Housekeeping tick rate in Hz")
		ipcSocket   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		stateWSPort = flag.Int("state-ws-port", 0, "State websocket listener port")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Only flags the user actually set override the file.
	overrides := FlagOverrides{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store-dir":
			overrides.StoreDir = storeDir
		case "backend":
			overrides.BackendKind = backendKind
		case "tick-hz":
			overrides.TickHz = tickHz
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "state-ws-port":
			overrides.StateWSPort = stateWSPort
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	storePath := ExpandPath(cfg.Store.Dir)
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		logger.Error("failed to create store directory", "dir", storePath, "error", err)
		os.Exit(1)
	}

	// Single-instance lock: two daemons fighting over the same endpoints
	// would enforce against each other.
	lockPath := filepath.Join(storePath, "daemon.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		logger.Error("failed to open lock file", "path", lockPath, "error", err)
		os.Exit(1)
	}
	defer lockFile.Close()
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		logger.Error("another micfreezerd instance is running", "lock", lockPath)
		os.Exit(1)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	store, err := OpenSettingsStore(filepath.Join(storePath, "settings"), logger)
	if err != nil {
		logger.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	backend, err := buildBackend(cfg)
	if err != nil {
		logger.Error("failed to build device backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	hub := NewHub(logger, HubConfig{})
	daemon := NewDaemon(cfg, store, backend, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting micfreezerd",
		"version", version,
		"backend", cfg.Backend.Kind,
		"store_dir", storePath,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_port", cfg.StateWS.Port)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, daemon, logger)
	})

	g.Go(func() error {
		return runStateWSServer(gctx, cfg.StateWS.Port, hub, logger)
	})

	g.Go(func() error {
		err := daemon.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// buildBackend constructs the configured device backend.
func buildBackend(cfg Config) (Backend, error) {
	switch cfg.Backend.Kind {
	case "sim":
		b := NewSimulatedBackend()
		for _, d := range cfg.Backend.SimDevices {
			b.AddEndpoint(d.ID, d.Name, EndpointKind(d.Kind), d.MinDB, d.MaxDB, d.VolumeDB)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend.Kind)
	}
}

// runStateWSServer serves the state websocket endpoint until ctx is canceled.
func runStateWSServer(ctx context.Context, port int, hub *Hub, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/state", hub.HandleStateWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("state websocket listening", "addr", srv.Addr, "path", "/ws/state")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("state ws server: %w", err)
	}
	return nil
}
