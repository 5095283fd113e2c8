package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/recall/internal/catalog"
	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/session"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/web"
)

func main() {
	// 1. Parse flags and load configuration
	fs := config.Flags("recall")
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	// 2. Open the database
	db, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Debug("database opened", "path", cfg.DB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer := catalog.NewSyncer(db, cfg.ReposDir, logger)

	// 3. Run the requested action
	addSource, _ := fs.GetString("add-source")
	doSync, _ := fs.GetBool("sync")
	serve, _ := fs.GetBool("serve")

	if addSource != "" {
		src, err := syncer.AddSource(ctx, addSource)
		if err != nil {
			log.Fatalf("Failed to add source: %v", err)
		}
		fmt.Printf("Source %d added: %s (%s)\n", src.ID, src.Path, src.Type)
	}

	if doSync {
		report, err := syncer.RunSync(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		fmt.Printf("Synced %d sources: %d cards parsed, %d added, %d unpublished, %d errors.\n",
			report.Sources, report.Parsed, report.Added, report.Unpublished, len(report.Errors))
		if len(report.Errors) > 0 {
			fmt.Println("\nErrors:")
			for _, e := range report.Errors {
				fmt.Printf("- %s\n", e)
			}
		}
	}

	if serve {
		if err := runServer(ctx, cfg, db, syncer, logger); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	if addSource == "" && !doSync {
		fmt.Fprintln(os.Stderr, "Usage of recall:")
		fs.PrintDefaults()
	}
}

func runServer(ctx context.Context, cfg *config.Config, db *storage.DB, syncer *catalog.Syncer, logger *slog.Logger) error {
	ctrl, err := session.NewController(db, db, cfg.Queue, session.WithLogger(logger))
	if err != nil {
		return err
	}

	handler := web.NewServer(ctrl, &sourceAdmin{Syncer: syncer, db: db}, web.Options{
		SessionTTL: cfg.Server.SessionTTL,
		Admins:     cfg.Server.Admins,
		Logger:     logger,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sourceAdmin joins the syncer with the source queries the web adapter needs.
type sourceAdmin struct {
	*catalog.Syncer
	db *storage.DB
}

func (a *sourceAdmin) GetAllSources(ctx context.Context) ([]storage.Source, error) {
	return a.db.GetAllSources(ctx)
}

func (a *sourceAdmin) DeleteSource(ctx context.Context, sourceID int64) error {
	return a.db.DeleteSource(ctx, sourceID)
}
