package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmdemo/vm-provisioner/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the VM catalog
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string with parameters for concurrent access
	// - _journal_mode=WAL: Enable Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: Wait up to 10 seconds when database is locked
	// - _synchronous=NORMAL: Balance between safety and performance
	// - _txlock=immediate: Acquire write lock at transaction start to reduce conflicts
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY under concurrent creates
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL UNIQUE,
		instance_type TEXT NOT NULL,
		vm_name TEXT NOT NULL,
		owner_username TEXT NOT NULL,
		region TEXT NOT NULL,
		public_ip TEXT NOT NULL DEFAULT '',
		private_ip TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vms_instance_id ON vms(instance_id);
	CREATE INDEX IF NOT EXISTS idx_vms_owner ON vms(owner_username);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateVM inserts a new catalog row and assigns its id and timestamps
func (s *SQLiteStore) CreateVM(vm *models.VM) error {
	now := time.Now().UTC()
	vm.CreatedAt = now
	vm.UpdatedAt = now

	res, err := s.db.Exec(`
		INSERT INTO vms (instance_id, instance_type, vm_name, owner_username, region,
		                 public_ip, private_ip, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, vm.InstanceID, vm.InstanceType, vm.VMName, vm.OwnerUsername, vm.Region,
		vm.PublicIP, vm.PrivateIP, vm.CreatedAt, vm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vm: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted id: %w", err)
	}
	vm.ID = id
	return nil
}

// GetVM retrieves a catalog row by id
func (s *SQLiteStore) GetVM(id int64) (*models.VM, error) {
	var vm models.VM

	err := s.db.QueryRow(`
		SELECT id, instance_id, instance_type, vm_name, owner_username, region,
		       public_ip, private_ip, created_at, updated_at
		FROM vms WHERE id = ?
	`, id).Scan(&vm.ID, &vm.InstanceID, &vm.InstanceType, &vm.VMName, &vm.OwnerUsername,
		&vm.Region, &vm.PublicIP, &vm.PrivateIP, &vm.CreatedAt, &vm.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrVMNotFound
	}
	if err != nil {
		return nil, err
	}

	return &vm, nil
}

// ListVMs returns one page of rows ordered by id ascending plus the total count
func (s *SQLiteStore) ListVMs(skip, take int) ([]*models.VM, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vms`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count vms: %w", err)
	}

	if skip < 0 {
		skip = 0
	}
	if take < 1 {
		return []*models.VM{}, total, nil
	}

	rows, err := s.db.Query(`
		SELECT id, instance_id, instance_type, vm_name, owner_username, region,
		       public_ip, private_ip, created_at, updated_at
		FROM vms ORDER BY id ASC LIMIT ? OFFSET ?
	`, take, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query vms: %w", err)
	}
	defer rows.Close()

	vms := []*models.VM{}
	for rows.Next() {
		var vm models.VM
		if err := rows.Scan(&vm.ID, &vm.InstanceID, &vm.InstanceType, &vm.VMName,
			&vm.OwnerUsername, &vm.Region, &vm.PublicIP, &vm.PrivateIP,
			&vm.CreatedAt, &vm.UpdatedAt); err != nil {
			return nil, 0, err
		}
		vms = append(vms, &vm)
	}

	return vms, total, rows.Err()
}

// UpdateVM overwrites the mutable columns of an existing row
func (s *SQLiteStore) UpdateVM(vm *models.VM) error {
	vm.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE vms SET instance_id = ?, instance_type = ?, vm_name = ?,
		               owner_username = ?, region = ?, public_ip = ?, private_ip = ?,
		               updated_at = ?
		WHERE id = ?
	`, vm.InstanceID, vm.InstanceType, vm.VMName, vm.OwnerUsername, vm.Region,
		vm.PublicIP, vm.PrivateIP, vm.UpdatedAt, vm.ID)
	if err != nil {
		return fmt.Errorf("failed to update vm: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVMNotFound
	}
	return nil
}

// DeleteVM removes a catalog row by id
func (s *SQLiteStore) DeleteVM(id int64) error {
	res, err := s.db.Exec(`DELETE FROM vms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vm: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVMNotFound
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
