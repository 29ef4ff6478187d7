// Package store provides SQLite storage for packages, orders and vouchers.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateVoucher is returned when a voucher insert loses a race against
// a concurrent insert for the same order. The unique index on
// vouchers(order_id) is what makes the at-most-one-voucher guarantee hold
// across horizontally scaled instances.
var ErrDuplicateVoucher = errors.New("store: voucher already exists for order")

// OrderStatus is the reconciliation state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed
}

// VoucherStatus is the lifecycle state of a voucher.
type VoucherStatus string

const (
	VoucherActive  VoucherStatus = "active"
	VoucherUsed    VoucherStatus = "used"
	VoucherExpired VoucherStatus = "expired"
)

// Package is a purchasable Wi-Fi package. The catalog is owned by the admin
// surface; the core only reads it.
type Package struct {
	ID            string
	Name          string
	Price         int64
	DurationHours int
	SpeedMbps     int
	MaxDevices    int
	IsPopular     bool
	IsActive      bool
	CreatedAt     time.Time
}

// Order is a single purchase attempt.
type Order struct {
	ID                string
	PackageID         string
	Phone             string
	Email             string
	Amount            int64
	PaymentMethod     string
	Status            OrderStatus
	GatewayOrderID    string
	GatewayTrackingID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Voucher is one unit of grantable network access. Its code doubles as the
// hotspot username and password.
type Voucher struct {
	ID         string
	OrderID    string
	PackageID  string
	Code       string
	Status     VoucherStatus
	ValidHours int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	DeviceIP   string
	UsedAt     *time.Time
}

// Store wraps the database connection.
type Store struct {
	conn *sql.DB
}

// Open opens the SQLite database and creates tables if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func createTables(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS wifi_packages (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price INTEGER NOT NULL,
			duration_hours INTEGER NOT NULL,
			speed_mbps INTEGER DEFAULT 0,
			max_devices INTEGER DEFAULT 1,
			is_popular INTEGER DEFAULT 0,
			is_active INTEGER DEFAULT 1,
			created_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			package_id TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT DEFAULT '',
			amount INTEGER NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			gateway_order_id TEXT DEFAULT '',
			gateway_tracking_id TEXT DEFAULT '',
			created_at DATETIME,
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS vouchers (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			package_id TEXT NOT NULL,
			code TEXT NOT NULL,
			status TEXT DEFAULT 'active',
			valid_hours INTEGER NOT NULL,
			created_at DATETIME,
			expires_at DATETIME,
			device_ip TEXT DEFAULT '',
			used_at DATETIME
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_vouchers_order ON vouchers(order_id);
		CREATE INDEX IF NOT EXISTS idx_vouchers_status ON vouchers(status);
		CREATE INDEX IF NOT EXISTS idx_vouchers_expires ON vouchers(expires_at);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
		CREATE INDEX IF NOT EXISTS idx_packages_active ON wifi_packages(is_active);
	`)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
