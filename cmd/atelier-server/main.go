// Command atelier-server runs the reference marketplace server that the
// client controllers talk to in demos and end-to-end tests.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matthewbaird/atelier/internal/marketsrv"
	"github.com/matthewbaird/atelier/internal/seed"
)

func main() {
	log.SetPrefix("atelier-server: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "file:atelier.db?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	storage, err := marketsrv.NewStorage(ctx, db)
	if err != nil {
		log.Fatalf("preparing storage: %v", err)
	}

	if os.Getenv("SEED_DEMO") != "" {
		if err := seed.Market(ctx, storage); err != nil {
			log.Fatalf("seeding demo data: %v", err)
		}
	}

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: marketsrv.New(storage).Router(),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
