package store

import (
	"database/sql"
	"errors"
	"time"
)

// CreateVoucher inserts a new voucher. Returns ErrDuplicateVoucher when a
// voucher for the same order was inserted concurrently; callers recover by
// re-fetching the existing row.
func (s *Store) CreateVoucher(v *Voucher) error {
	_, err := s.conn.Exec(`
		INSERT INTO vouchers (id, order_id, package_id, code, status, valid_hours, created_at, expires_at, device_ip, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.OrderID, v.PackageID, v.Code, v.Status, v.ValidHours, v.CreatedAt, v.ExpiresAt, v.DeviceIP, v.UsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVoucher
		}
		return err
	}
	return nil
}

// GetVoucherByOrder retrieves the voucher minted for an order, if any.
func (s *Store) GetVoucherByOrder(orderID string) (*Voucher, error) {
	row := s.conn.QueryRow(`
		SELECT id, order_id, package_id, code, status, valid_hours, created_at, expires_at, device_ip, used_at
		FROM vouchers WHERE order_id = ?
	`, orderID)
	return scanVoucher(row)
}

// ActiveCodeExists reports whether a currently-active voucher uses the code.
func (s *Store) ActiveCodeExists(code string) (bool, error) {
	var n int
	row := s.conn.QueryRow(`SELECT COUNT(*) FROM vouchers WHERE code = ? AND status = 'active'`, code)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExpiredActive returns active vouchers whose expiry has passed.
func (s *Store) ListExpiredActive(now time.Time) ([]*Voucher, error) {
	rows, err := s.conn.Query(`
		SELECT id, order_id, package_id, code, status, valid_hours, created_at, expires_at, device_ip, used_at
		FROM vouchers WHERE status = 'active' AND expires_at < ? ORDER BY expires_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []*Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

// MarkVoucherExpired flips an active voucher to expired. Re-running over an
// already-expired voucher is a no-op, which keeps overlapping sweeps safe.
func (s *Store) MarkVoucherExpired(id string) (bool, error) {
	res, err := s.conn.Exec(`
		UPDATE vouchers SET status = 'expired' WHERE id = ? AND status = 'active'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkVoucherUsed records the first login against a voucher.
func (s *Store) MarkVoucherUsed(code, deviceIP string) error {
	now := time.Now().UTC()
	res, err := s.conn.Exec(`
		UPDATE vouchers SET status = 'used', device_ip = ?, used_at = ? WHERE code = ? AND status = 'active'
	`, deviceIP, now, code)
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

// ListRecentVouchers returns the most recent vouchers for the admin dashboard.
func (s *Store) ListRecentVouchers(limit int) ([]*Voucher, error) {
	rows, err := s.conn.Query(`
		SELECT id, order_id, package_id, code, status, valid_hours, created_at, expires_at, device_ip, used_at
		FROM vouchers ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []*Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func scanVoucher(row rowScanner) (*Voucher, error) {
	v := &Voucher{}
	var deviceIP sql.NullString
	var usedAt sql.NullTime
	err := row.Scan(&v.ID, &v.OrderID, &v.PackageID, &v.Code, &v.Status, &v.ValidHours, &v.CreatedAt, &v.ExpiresAt, &deviceIP, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deviceIP.Valid {
		v.DeviceIP = deviceIP.String
	}
	if usedAt.Valid {
		v.UsedAt = &usedAt.Time
	}
	return v, nil
}
