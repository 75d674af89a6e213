package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/vmdemo/vm-provisioner/pkg/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vms (
		id BIGSERIAL PRIMARY KEY,
		instance_id TEXT NOT NULL UNIQUE,
		instance_type TEXT NOT NULL,
		vm_name TEXT NOT NULL,
		owner_username TEXT NOT NULL,
		region TEXT NOT NULL,
		public_ip TEXT NOT NULL DEFAULT '',
		private_ip TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vms_instance_id ON vms(instance_id);
	CREATE INDEX IF NOT EXISTS idx_vms_owner ON vms(owner_username);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateVM inserts a new catalog row and assigns its id and timestamps
func (s *PostgresStore) CreateVM(vm *models.VM) error {
	now := time.Now().UTC()
	vm.CreatedAt = now
	vm.UpdatedAt = now

	err := s.db.QueryRow(`
		INSERT INTO vms (instance_id, instance_type, vm_name, owner_username, region,
		                 public_ip, private_ip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, vm.InstanceID, vm.InstanceType, vm.VMName, vm.OwnerUsername, vm.Region,
		vm.PublicIP, vm.PrivateIP, vm.CreatedAt, vm.UpdatedAt).Scan(&vm.ID)
	if err != nil {
		return fmt.Errorf("failed to insert vm: %w", err)
	}
	return nil
}

// GetVM retrieves a catalog row by id
func (s *PostgresStore) GetVM(id int64) (*models.VM, error) {
	var vm models.VM

	err := s.db.QueryRow(`
		SELECT id, instance_id, instance_type, vm_name, owner_username, region,
		       public_ip, private_ip, created_at, updated_at
		FROM vms WHERE id = $1
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
func (s *PostgresStore) ListVMs(skip, take int) ([]*models.VM, int, error) {
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
		FROM vms ORDER BY id ASC LIMIT $1 OFFSET $2
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
func (s *PostgresStore) UpdateVM(vm *models.VM) error {
	vm.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE vms SET instance_id = $1, instance_type = $2, vm_name = $3,
		               owner_username = $4, region = $5, public_ip = $6, private_ip = $7,
		               updated_at = $8
		WHERE id = $9
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
func (s *PostgresStore) DeleteVM(id int64) error {
	res, err := s.db.Exec(`DELETE FROM vms WHERE id = $1`, id)
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
