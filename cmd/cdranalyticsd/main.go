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
	"strings"
	"syscall"
	"time"

	"cdr-analytics/internal/aggregate"
	"cdr-analytics/internal/auth"
	"cdr-analytics/internal/config"
	"cdr-analytics/internal/db"
	"cdr-analytics/internal/httpapi"
	"cdr-analytics/internal/notify"
	"cdr-analytics/internal/query"
	"cdr-analytics/internal/report"
	"cdr-analytics/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "/etc/cdranalyticsd.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = serve(cfg)
	case "migrate":
		err = db.Migrate(cfg.DB.DSN)
	case "token":
		err = issueToken(cfg, flag.Args()[1:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("cdranalyticsd failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// issueToken prints a signed API token, e.g. `token -sub alice -role admin`.
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "token subject")
	role := fs.String("role", cfg.Auth.AdminRole, "token role")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" {
		return errors.New("token: -sub is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("token: auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).Issue(*sub, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(cfg.DB)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	records := postgres.NewRecordStore(pool)
	audits := postgres.NewAuditRepository(pool)
	executions := postgres.NewExecutionRepository(pool)

	stats := aggregate.NewEngine(records, aggregate.NamerFor(cfg.Reporting.Locale))
	deliverer := notify.NewDeliverer(notify.NewSMTPChannel(cfg.SMTP),
		notify.WithRecorder(audits),
		notify.WithSendTimeout(cfg.SMTP.SendTimeout),
		notify.WithSendGap(cfg.Reporting.SendGap),
	)
	reports := report.NewOrchestrator(stats, deliverer, executions, report.OptionsFromConfig(cfg))

	if !cfg.Reporting.SchedulerDisabled {
		sched, err := report.NewScheduler(reports, cfg.Location(), cfg.Reporting.WeeklyCron, cfg.Reporting.MonthlyCron)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer func() {
			<-sched.Stop().Done()
		}()
	}

	router := httpapi.NewRouter(httpapi.Server{
		Config:     cfg,
		DB:         pool,
		Verifier:   auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Records:    query.NewEngine(records),
		Stats:      stats,
		Reports:    reports,
		Executions: executions,
		Audits:     audits,
		Deliveries: deliverer,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("cdr analytics service listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	return nil
}
