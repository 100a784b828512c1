package core

import (
	"fmt"
	"io"

	"inventory/internal/config"
	"inventory/internal/infra/persistence/memory"
	"inventory/internal/infra/persistence/postgres"
	"inventory/internal/infra/persistence/sqlite"
	"inventory/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	// PersistentStore aliases the domain store contract.
	PersistentStore = domain.PersistentStore
	// RulesEngine aliases the domain rules engine.
	RulesEngine = domain.RulesEngine
)

// NewDefaultRulesEngine returns an engine with the task field rule registered.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(domain.TaskFieldsRule())
	return engine
}

// OpenPersistentStore selects a backend from cfg. An empty driver selects
// sqlite. The default rules engine is installed on every backend.
func OpenPersistentStore(cfg config.Storage) (PersistentStore, error) {
	engine := NewDefaultRulesEngine()
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// CloseStore releases the resources held by store, if any.
func CloseStore(store PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
