package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/arriba-labs/battlebot/internal/bot"
	"github.com/arriba-labs/battlebot/internal/config"
	"github.com/arriba-labs/battlebot/internal/database"
	"github.com/arriba-labs/battlebot/internal/dispatcher"
	"github.com/arriba-labs/battlebot/internal/habbo"
	"github.com/arriba-labs/battlebot/internal/handler"
	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/logfile"
	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/notify"
	"github.com/arriba-labs/battlebot/internal/store"
	"github.com/arriba-labs/battlebot/internal/version"
	"github.com/arriba-labs/battlebot/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env-file", ".env", "path to a .env file (ignored if missing)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	skipRegister := flag.Bool("skip-register", false, "do not (re)register slash commands on startup")
	showVersion := flag.BoolP("version", "v", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	if err := run(*configPath, *envFile, *logLevel, *skipRegister); err != nil {
		log.Fatalf("battlebot: %v", err)
	}
}

func run(configPath, envFile, logLevel string, skipRegister bool) error {
	// Load .env file if present
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Each run starts a fresh log; the tail of the last one is kept aside
	if cfg.Logging.File != "" {
		if err := logfile.Rotate(cfg.Logging.File, logfile.DefaultKeepTail); err != nil {
			log.Printf("Warning: failed to rotate log file: %v", err)
		}
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = lg.Close() }()

	lg.Info("starting battlebot", "version", version.Get(), "database", cfg.Database.Driver)

	// Connect to database
	db, err := database.New(cfg.Database, lg.With("component", "database").StdLog())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	lg.Info("migrations completed")

	s := store.New(db.DB)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.UserAgent = version.UserAgent()

	source := habbo.NewClient(cfg.Habbo.BaseURL, cfg.Habbo.RequestsPerSecond, cfg.Habbo.Timeout)
	syncWorker := worker.New(s, source, notify.NewDiscord(session), cfg.Sync, cfg.Leaderboard, lg)

	jobQueue := jobs.NewQueue(s)
	jobQueue.SetNotifyFunc(syncWorker.Kick)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disp := dispatcher.New(lg)
	disp.Start(ctx)
	defer disp.Stop()

	b := bot.New(session, disp, syncWorker, jobQueue, s, cfg, lg)
	if err := b.Open(ctx, skipRegister); err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			lg.Warn("failed to close discord session", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return syncWorker.Run(gctx) })
	g.Go(func() error { return b.RunLeaderboardLoop(gctx) })

	// The user in flight gets shutdownTimeout to finish before it is aborted
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return syncWorker.Shutdown(shutdownCtx)
	})

	if cfg.HTTP.Port > 0 {
		h := handler.New(s, syncWorker, jobQueue, disp, lg)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           h.Router(cfg.HTTP.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			lg.Info("admin API listening", "port", cfg.HTTP.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	lg.Info("battlebot is running")
	err = g.Wait()
	lg.Info("shutting down")
	return err
}
