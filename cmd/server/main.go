package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
	"github.com/pv/labacq-go/internal/api"
	"github.com/pv/labacq-go/internal/archive"
	"github.com/pv/labacq-go/internal/config"
	"github.com/pv/labacq-go/internal/instrument"
	"github.com/pv/labacq-go/internal/logger"
	"github.com/pv/labacq-go/internal/metrics"
	"github.com/pv/labacq-go/internal/syncgroup"
)

func buildReader(inst config.InstrumentConfig) (instrument.Reader, error) {
	switch inst.Driver {
	case "sim":
		return instrument.NewSim(inst.ID, inst.Sim), nil
	case "http":
		return instrument.NewHTTP(inst.ID, inst.HTTP), nil
	case "serial":
		return instrument.NewSerial(inst.ID, inst.Serial)
	case "opcua":
		drv, err := instrument.NewOPCUA(inst.ID, inst.OPCUA)
		if err != nil {
			return nil, err
		}
		if err := drv.Start(); err != nil {
			return nil, err
		}
		return drv, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", inst.Driver)
	}
}

func main() {
	cfg := config.Parse()
	logger.Init(cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	collector := metrics.NewCollector()

	// Load instrument inventory
	instruments := instrument.NewRegistry()
	defer instruments.CloseAll()

	instConfigs, err := config.LoadInstrumentsFromYAML(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("Failed to load instruments: %v", err)
	}
	for _, inst := range instConfigs {
		reader, err := buildReader(inst)
		if err != nil {
			log.Fatalf("Failed to create driver for %q: %v", inst.ID, err)
		}
		instruments.Register(inst.ID, instrument.NewTimedReader(reader, collector.ObserveReadLatency))
		logger.Info("instrument registered", "id", inst.ID, "driver", inst.Driver, "channels", len(inst.Channels))
	}

	// Create archive backend
	var backend archive.Backend
	switch cfg.Storage {
	case config.StorageSQLite:
		backend = archive.NewSQLiteBackend(cfg.SQLitePath)
		logger.Info("using SQLite archive", "path", cfg.SQLitePath)
	case config.StoragePostgres:
		backend = archive.NewPostgresBackend(cfg.PostgresConn)
		logger.Info("using PostgreSQL archive")
	default:
		backend = archive.NewMemoryBackend()
		logger.Info("using in-memory archive")
	}

	arch := archive.NewManager(backend, cfg.ArchiveMax)
	if cfg.ArchiveEnabled {
		if err := arch.Start(); err != nil {
			log.Fatalf("Failed to start archiving: %v", err)
		}
	}
	defer arch.Stop()

	// Create session and group managers
	sessions := acquisition.NewManager()
	groups := syncgroup.NewRegistry()

	// Create API handlers and server
	handlers := api.NewHandlers(sessions, groups, instruments, arch)
	handlers.SetGroupDefaults(cfg.GroupTolerance, cfg.BarrierTimeout)
	server := api.NewServer(handlers, collector.Handler())
	hub := handlers.GetSSEHub()

	// Every captured sample goes to streaming clients, the archive and metrics
	sessions.SetSampleCallback(func(equipmentID, channel string, s acquisition.Sample) {
		hub.BroadcastSample(equipmentID, channel, s)
		collector.SampleCaptured(equipmentID)
		if err := arch.Save(archive.Record{
			EquipmentID: equipmentID,
			Channel:     channel,
			Value:       s.Value,
			Timestamp:   s.Timestamp,
		}); err != nil {
			logger.Warn("archive save failed", "equipment", equipmentID, "error", err)
		}
	})
	sessions.SetStateCallback(func(sessionID string, from, to acquisition.State) {
		hub.BroadcastState(sessionID, from, to)
		if from == acquisition.StateArmed && to == acquisition.StateAcquiring {
			collector.TriggerFired()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Refresh session gauges in the background
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				statuses := sessions.List()
				active := 0
				for _, st := range statuses {
					switch st.State {
					case acquisition.StateArmed, acquisition.StateAcquiring, acquisition.StatePaused:
						active++
					}
					for ch, n := range st.Overruns {
						collector.SetOverruns(st.EquipmentID, ch, n)
					}
				}
				collector.SetActiveSessions(active)
			}
		}
	}()

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		logger.Info("starting server", "addr", addr, "instruments", len(instConfigs), "storage", string(cfg.Storage))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	groups.StopAll()
	sessions.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
