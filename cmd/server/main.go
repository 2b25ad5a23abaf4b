// Package main is the entry point for the lot ledger service. It tracks
// discrete acquisition lots per account and security, records disposals
// against them, and reconciles which lots historical disposals were drawn
// from.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/server"
	"github.com/aristath/lotledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting lot ledger")

	// ledger.db holds the lots and disposals; it is the financial record,
	// so it runs on the durable profile (synchronous=FULL).
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	// universe.db holds the security reference data lots point at.
	universeDB, err := database.New(database.Config{
		Path:    cfg.UniverseDBPath(),
		Profile: database.ProfileStandard,
		Name:    "universe",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open universe database")
	}
	defer universeDB.Close()

	for _, db := range []*database.DB{ledgerDB, universeDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to apply schema")
		}
	}
	log.Info().Msg("Databases ready")

	srv := server.New(server.Config{
		Log:        log,
		LedgerDB:   ledgerDB,
		UniverseDB: universeDB,
		Config:     cfg,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until SIGINT or SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Checkpoint the WALs so a clean stop leaves compact database files.
	for _, db := range []*database.DB{ledgerDB, universeDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	log.Info().Msg("Server stopped")
}
