package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskbeat/internal/api"
	"taskbeat/internal/domain"
	httphandler "taskbeat/internal/handlers/http"
	"taskbeat/internal/handlers/shell"
	"taskbeat/internal/store"
	"taskbeat/internal/worker"
)

func main() {
	var (
		addr   = flag.String("addr", ":8080", "HTTP bind address")
		dbPath = flag.String("db", "taskbeat.db", "SQLite DB path")
		stale  = flag.Duration("release-stale", 0, "release tickets claimed longer ago than this at startup (0 disables)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewSQLite(db)
	if *stale > 0 {
		if n, err := st.ReleaseStale(context.Background(), time.Now().Add(-*stale)); err == nil {
			log.Info().Int("released", n).Msg("released stale run tickets")
		}
	}

	// Handlers registry
	handlers := map[string]domain.Handler{
		"shell": shell.Shell{},
		"http":  httphandler.HTTP{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	group := worker.NewGroup()

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(ctx, st, group, handlers)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	group.StopAll()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
