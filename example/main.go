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

	"github.com/go-chi/chi/v5"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Morditux/sessionware"
)

func main() {
	var (
		rootFlags  = flag.NewFlagSet("sessionware-example", flag.ExitOnError)
		configPath = rootFlags.String("config", "", "YAML session config file")
		addr       = rootFlags.String("addr", ":8080", "listen address")
	)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = logger

	serveCmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "sessionware-example [flags] serve",
		Exec: func(ctx context.Context, _ []string) error {
			return serve(ctx, *configPath, *addr, &logger)
		},
	}
	gcCmd := &ffcli.Command{
		Name:       "gc",
		ShortUsage: "sessionware-example [flags] gc",
		Exec: func(ctx context.Context, _ []string) error {
			return collect(ctx, *configPath, &logger)
		},
	}
	rootCmd := &ffcli.Command{
		ShortUsage:  "sessionware-example [flags] <subcommand>",
		FlagSet:     rootFlags,
		Options:     []ff.Option{ff.WithEnvVarPrefix("SESSIONWARE")},
		Subcommands: []*ffcli.Command{serveCmd, gcCmd},
		Exec: func(_ context.Context, _ []string) error {
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ParseAndRun(ctx, os.Args[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		log.Fatal().Err(err).Send()
	}
}

func loadConfig(path string) (sessionware.Config, error) {
	if path == "" {
		cfg := sessionware.Config{Driver: "sqlite", DSN: "sessions.db"}
		cfg.Sync.Enable = true
		return cfg, nil
	}
	return sessionware.LoadConfig(path)
}

func serve(ctx context.Context, configPath, addr string, logger *zerolog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	mw, err := sessionware.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer mw.Close()

	router := chi.NewRouter()
	router.Use(mw.Handler)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		data := sessionware.FromContext(r.Context()).Data()
		count, _ := data.Int("count")
		count++
		data.Set("count", count)
		fmt.Fprintf(w, "Hello! You have visited this page %d times.", count)
	})
	router.Get("/remember", func(w http.ResponseWriter, r *http.Request) {
		// Turns the session cookie into a persistent one.
		sessionware.FromContext(r.Context()).SetExpiry(30 * 24 * time.Hour)
		fmt.Fprint(w, "Remembered for 30 days.")
	})
	router.Get("/logout", func(w http.ResponseWriter, r *http.Request) {
		sessionware.FromContext(r.Context()).Destroy()
		fmt.Fprint(w, "Logged out!")
	})

	server := &http.Server{Addr: addr, Handler: router}
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	logger.Info().Str("addr", addr).Msg("server started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func collect(ctx context.Context, configPath string, logger *zerolog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	mw, err := sessionware.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer mw.Close()

	n, err := mw.GC(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int64("deleted", n).Msg("collected expired sessions")
	return nil
}
