package store

import (
	"errors"
	"time"

	"github.com/vmdemo/vm-provisioner/pkg/models"
)

// ErrVMNotFound is returned for lookups of ids with no catalog row.
var ErrVMNotFound = errors.New("vm not found")

// ErrUnsupportedDatabase is returned by NewStore for unknown backend types.
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// Store is the VM catalog contract. Implementations hold no business logic:
// ids and timestamps are assigned here, ordering is id ascending, and every
// failure is a plain storage error for the orchestrator to classify.
type Store interface {
	// CreateVM persists a new row, assigning ID, CreatedAt and UpdatedAt.
	CreateVM(vm *models.VM) error

	// GetVM retrieves a row by id, ErrVMNotFound if absent.
	GetVM(id int64) (*models.VM, error)

	// ListVMs returns one page ordered by id ascending plus the total row
	// count. skip may run past the end; take below 1 yields an empty page.
	ListVMs(skip, take int) ([]*models.VM, int, error)

	// UpdateVM overwrites the mutable columns of an existing row and bumps
	// UpdatedAt. ErrVMNotFound if the row is gone.
	UpdateVM(vm *models.VM) error

	// DeleteVM removes a row by id, ErrVMNotFound if absent.
	DeleteVM(id int64) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds catalog backend configuration.
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // connection string (postgres)
	Path string // database file (sqlite)

	// PostgreSQL pool tuning
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore creates a catalog backend from configuration. SQLite is the
// default for backward compatibility with file-path-only deployments.
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "vms.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
