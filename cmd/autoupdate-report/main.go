package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/gwest/autoupdate-report/config"
	"github.com/gwest/autoupdate-report/internal/api"
	"github.com/gwest/autoupdate-report/internal/mail"
	"github.com/gwest/autoupdate-report/internal/recipients"
	"github.com/gwest/autoupdate-report/internal/recorder"
	"github.com/gwest/autoupdate-report/internal/report"
	"github.com/gwest/autoupdate-report/internal/reporter"
	"github.com/gwest/autoupdate-report/internal/schedule"
	"github.com/gwest/autoupdate-report/internal/sitemeta"
	"github.com/gwest/autoupdate-report/internal/storage"
	"github.com/gwest/autoupdate-report/internal/updatelog"
)

const weeklyJob = "weekly_report"

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	// Parse flags
	configFile := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	listenAddr := flag.String("addr", "", "Listen address (overrides config)")
	sendNow := flag.Bool("send-now", false, "Run one report cycle and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("autoupdate-report %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "-config is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override with flags
	if *verbose {
		cfg.Verbose = true
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}

	var levels []logger.Level
	if cfg.Verbose {
		levels = logger.AllLevels()
	} else {
		levels = []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	}
	logger.Init(logger.Config{Levels: levels})

	// Initialize the update log and site metadata
	updates := updatelog.NewStore(cfg.Site.LogsDir, updatelog.Options{MaxEntries: cfg.Log.MaxEntries})
	logger.Infof("Update log at %s", updates.Path())

	meta := sitemeta.NewFS(cfg.Site.Root, cfg.Site.ThemesDir)
	rec := recorder.New(updates, meta)

	// Initialize report delivery
	to, err := recipients.Resolve(cfg.Mail.AdminEmail, cfg.Mail.ExtraRecipients, recipients.StaticDirectory(cfg.Users))
	if err != nil {
		logger.Fatalf("Failed to resolve recipients: %v", err)
	}
	logger.Infof("Report recipients: %d", len(to))

	var sender mail.Sender
	switch cfg.Mail.Transport {
	case "outbox":
		sender = mail.NewOutboxSender(cfg.Mail.OutboxDir, cfg.Mail.From)
		logger.Infof("Mail transport: outbox (%s)", cfg.Mail.OutboxDir)
	default:
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTP.Host,
			Port:     cfg.Mail.SMTP.Port,
			Username: cfg.Mail.SMTP.Username,
			Password: cfg.Mail.SMTP.Password,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.SMTP.Timeout,
		})
		logger.Infof("Mail transport: smtp (%s:%d)", cfg.Mail.SMTP.Host, cfg.Mail.SMTP.Port)
	}

	renderer := report.NewRenderer(cfg.Site.Name, cfg.Location())
	weekly := reporter.New(updates, renderer, sender, to, cfg.Mail.From)

	if *sendNow {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Schedule.RunTimeout)
		res, err := weekly.RunWeeklyCycle(ctx)
		cancel()
		if err != nil {
			logger.Fatalf("Report cycle %s failed: %v", res.ID, err)
		}
		logger.Infof("Report cycle %s: %s (%d updates)", res.ID, res.Outcome, res.Events)
		return
	}

	// Initialize the state store and scheduler
	state, err := storage.OpenStateStore(cfg.State.Path)
	if err != nil {
		logger.Fatalf("Failed to open state store: %v", err)
	}
	defer state.Close()

	scheduler := schedule.NewScheduler(state, cfg.Schedule.RunTimeout)
	next, err := scheduler.Register(weeklyJob, cfg.Schedule.Interval, func(ctx context.Context) (string, error) {
		res, err := weekly.RunWeeklyCycle(ctx)
		return string(res.Outcome), err
	})
	if err != nil {
		logger.Fatalf("Failed to register %s: %v", weeklyJob, err)
	}
	if cfg.Schedule.Enabled {
		scheduler.Start()
		logger.Infof("Weekly report scheduled, next run %s", next.Format(time.RFC3339))
	} else {
		logger.Infof("Schedule disabled, reports only sent on demand")
	}

	// Initialize authentication
	var auth api.Authenticator = api.NoAuth{}
	if cfg.Server.HtpasswdFile != "" {
		auth, err = api.NewHtpasswdAuth(cfg.Server.HtpasswdFile)
		if err != nil {
			logger.Fatalf("Failed to initialize auth: %v", err)
		}
		logger.Infof("Authentication: htpasswd (%s)", cfg.Server.HtpasswdFile)
	} else {
		logger.Warnf("Authentication: disabled")
	}

	// Create router
	router := api.NewRouter(rec, auth)
	router.SetJobs(scheduler, weeklyJob)
	router.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Handle graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP reloads the htpasswd file
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if h, ok := auth.(*api.HtpasswdAuth); ok {
				if err := h.Reload(); err != nil {
					logger.Errorf("Reloading htpasswd: %v", err)
					continue
				}
				logger.Infof("Reloaded %s", cfg.Server.HtpasswdFile)
			}
		}
	}()

	go func() {
		logger.Infof("autoupdate-report %s listening on %s", version, cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Infof("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
	scheduler.Stop()

	logger.Infof("Shutdown complete")
}
