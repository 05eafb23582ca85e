package config

import (
	"flag"
	"time"
)

type StorageType string

const (
	StorageMemory   StorageType = "memory"
	StorageSQLite   StorageType = "sqlite"
	StoragePostgres StorageType = "postgres"
)

type Config struct {
	Port            int
	InstrumentsPath string
	Storage         StorageType
	SQLitePath      string
	PostgresConn    string
	ArchiveEnabled  bool
	ArchiveMax      int64
	GroupTolerance  time.Duration
	BarrierTimeout  time.Duration
	LogFormat       string
	LogLevel        string
}

func Parse() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8000, "HTTP server port")
	flag.StringVar(&cfg.InstrumentsPath, "instruments", "./instruments.yaml", "Instrument inventory YAML file")

	var storageStr string
	flag.StringVar(&storageStr, "storage", "memory", "Archive storage type: memory, sqlite or postgres")

	flag.StringVar(&cfg.SQLitePath, "sqlite-path", "./archive.db", "SQLite database path")
	flag.StringVar(&cfg.PostgresConn, "postgres-conn", "", "PostgreSQL connection string")
	flag.BoolVar(&cfg.ArchiveEnabled, "archive", false, "Start with archiving enabled")
	flag.Int64Var(&cfg.ArchiveMax, "archive-max", 1000000, "Maximum archived records before cleanup")
	flag.DurationVar(&cfg.GroupTolerance, "sync-tolerance", 50*time.Millisecond, "Default sync group start-skew tolerance")
	flag.DurationVar(&cfg.BarrierTimeout, "barrier-timeout", 5*time.Second, "Default sync group barrier timeout")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")

	flag.Parse()

	cfg.Storage = StorageType(storageStr)
	switch cfg.Storage {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		cfg.Storage = StorageMemory
	}

	return cfg
}
