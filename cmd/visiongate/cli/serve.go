package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/authcache"
	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/server"
	"github.com/visiongate/visiongate/internal/service"
	"github.com/visiongate/visiongate/internal/telemetry"
	"github.com/visiongate/visiongate/internal/vision"
)

const banner = `
__   _____ ___ ___ ___  _  _  ___   _ _____ ___
\ \ / /_ _/ __|_ _/ _ \| \| |/ __| /_\_   _| __|
 \ V / | |\__ \| | (_) | .\  | (_ |/ _ \| | | _|
  \_/ |___|___/___\___/|_|\_|\___/_/ \_\_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		dev        bool
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VisionGate API server",
		Long:  "Start the HTTP server that authenticates tokens, proxies solves to the upstream vision model, and meters usage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runServeBackground()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVar(&background, "background", false, "Run the server as a detached background process")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Durable store (SQLite)
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "path", resolveDataDir())

	// 2. Validation cache + resolver
	capacity := viper.GetInt("auth.cache_capacity")
	if capacity <= 0 {
		capacity = authcache.DefaultCapacity
	}
	ttl := viper.GetDuration("auth.cache_ttl")
	if ttl <= 0 {
		ttl = authcache.DefaultTTL
	}
	cache, err := authcache.New(capacity, ttl)
	if err != nil {
		return fmt.Errorf("init validation cache: %w", err)
	}
	resolver := auth.NewResolver(st, cache, logger)

	// 3. Admin sessions
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "visiongate-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using insecure development default")
	}
	authSvc := service.NewAuthService(st, jwtSecret)

	// 4. Billing ledger
	var loc *time.Location
	if tz := viper.GetString("billing.timezone"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("billing.timezone: %w", err)
		}
	}
	l := ledger.New(st, logger, ledger.Options{
		CostPerRequestCents: viper.GetInt64("billing.cost_per_request_cents"),
		Location:            loc,
	})

	// 5. Upstream vision client
	visionCfg := vision.Config{
		BaseURL: viper.GetString("upstream.base_url"),
		APIKey:  viper.GetString("upstream.api_key"),
		Model:   viper.GetString("upstream.model"),
		Prompt:  viper.GetString("upstream.prompt"),
		Timeout: viper.GetDuration("upstream.timeout"),
	}
	if visionCfg.APIKey == "" {
		logger.Warn("upstream.api_key not set - solve requests will fail until it is configured")
	}
	visionClient := vision.NewOpenAIClient(visionCfg)

	// 6. First-run check (no admin exists)
	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: visiongate admin create")
	}

	// 7. Anonymous telemetry
	tracker := telemetry.New(context.Background(), st, func() telemetry.Properties {
		ctx := context.Background()
		owners, _ := st.CountOwners(ctx)
		tokens, _ := st.CountTokens(ctx)
		periods, _ := st.CountPeriods(ctx)
		hits, _ := cache.Stats()
		return telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Owners:    owners,
			Tokens:    tokens,
			Periods:   periods,
			CacheHits: hits,
		}
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	// 8. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rpm := viper.GetInt("rate_limit.solve_per_token_rpm"); rpm > 0 {
		srvCfg.SolvePerTokenRPM = rpm
	}
	if rpm := viper.GetInt("rate_limit.global_rpm"); rpm > 0 {
		srvCfg.GlobalRPM = rpm
	}

	srv := server.New(srvCfg, st, resolver, authSvc, l, visionClient, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ VisionGate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Solve:   POST http://%s:%d/api/v1/solve\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

// runServeBackground re-executes the current binary detached from the
// terminal, with stdout/stderr redirected to the log file.
func runServeBackground() error {
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	// Re-run "serve" without --background.
	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a == "--background" {
			continue
		}
		args = append(args, a)
	}

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	// Give the child a moment to fail fast on startup errors.
	time.Sleep(500 * time.Millisecond)
	if !isProcessRunning(child.Process.Pid) {
		return fmt.Errorf("server exited immediately - check %s", logFilePath())
	}

	fmt.Printf("Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: visiongate stop")
	return nil
}
