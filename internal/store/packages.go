package store

import (
	"database/sql"
	"errors"
)

// CreatePackage inserts a new package.
func (s *Store) CreatePackage(p *Package) error {
	_, err := s.conn.Exec(`
		INSERT INTO wifi_packages (id, name, price, duration_hours, speed_mbps, max_devices, is_popular, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Price, p.DurationHours, p.SpeedMbps, p.MaxDevices, p.IsPopular, p.IsActive, p.CreatedAt)
	return err
}

// GetPackage retrieves a package by ID.
func (s *Store) GetPackage(id string) (*Package, error) {
	row := s.conn.QueryRow(`
		SELECT id, name, price, duration_hours, speed_mbps, max_devices, is_popular, is_active, created_at
		FROM wifi_packages WHERE id = ?
	`, id)
	return scanPackage(row)
}

// ListActivePackages returns active packages ordered by price ascending.
func (s *Store) ListActivePackages() ([]*Package, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, price, duration_hours, speed_mbps, max_devices, is_popular, is_active, created_at
		FROM wifi_packages WHERE is_active = 1 ORDER BY price ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packages []*Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// UpdatePackage updates the mutable fields of a package.
func (s *Store) UpdatePackage(p *Package) error {
	res, err := s.conn.Exec(`
		UPDATE wifi_packages
		SET name = ?, price = ?, duration_hours = ?, speed_mbps = ?, max_devices = ?, is_popular = ?, is_active = ?
		WHERE id = ?
	`, p.Name, p.Price, p.DurationHours, p.SpeedMbps, p.MaxDevices, p.IsPopular, p.IsActive, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivatePackage hides a package from the catalog without deleting it.
func (s *Store) DeactivatePackage(id string) error {
	res, err := s.conn.Exec(`UPDATE wifi_packages SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*Package, error) {
	p := &Package{}
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.DurationHours, &p.SpeedMbps, &p.MaxDevices, &p.IsPopular, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
