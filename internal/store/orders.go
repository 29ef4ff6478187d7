package store

import (
	"database/sql"
	"errors"
	"time"
)

// CreateOrder inserts a new order.
func (s *Store) CreateOrder(o *Order) error {
	_, err := s.conn.Exec(`
		INSERT INTO orders (id, package_id, phone, email, amount, payment_method, status, gateway_order_id, gateway_tracking_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.PackageID, o.Phone, o.Email, o.Amount, o.PaymentMethod, o.Status, o.GatewayOrderID, o.GatewayTrackingID, o.CreatedAt, o.UpdatedAt)
	return err
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(id string) (*Order, error) {
	row := s.conn.QueryRow(`
		SELECT id, package_id, phone, email, amount, payment_method, status, gateway_order_id, gateway_tracking_id, created_at, updated_at
		FROM orders WHERE id = ?
	`, id)
	return scanOrder(row)
}

// SetOrderGateway records the gateway identifiers after a successful submit.
func (s *Store) SetOrderGateway(id, gatewayOrderID, trackingID string) error {
	_, err := s.conn.Exec(`
		UPDATE orders SET gateway_order_id = ?, gateway_tracking_id = ?, updated_at = ? WHERE id = ?
	`, gatewayOrderID, trackingID, time.Now().UTC(), id)
	return err
}

// SetOrderTrackingID records the tracking id delivered by a webhook.
func (s *Store) SetOrderTrackingID(id, trackingID string) error {
	_, err := s.conn.Exec(`
		UPDATE orders SET gateway_tracking_id = ?, updated_at = ? WHERE id = ?
	`, trackingID, time.Now().UTC(), id)
	return err
}

// FinalizeOrder moves a pending order to a terminal status. The WHERE clause
// guards monotonicity: a terminal order is never rewritten, so duplicate
// webhook deliveries and racing polls converge on the first outcome.
// Returns true if this call performed the transition.
func (s *Store) FinalizeOrder(id string, status OrderStatus) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("store: finalize requires a terminal status")
	}
	res, err := s.conn.Exec(`
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'
	`, status, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRecentOrders returns the most recent orders for the admin dashboard.
func (s *Store) ListRecentOrders(limit int) ([]*Order, error) {
	rows, err := s.conn.Query(`
		SELECT id, package_id, phone, email, amount, payment_method, status, gateway_order_id, gateway_tracking_id, created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Stats summarises sales for the admin dashboard.
type Stats struct {
	TotalOrders     int
	CompletedOrders int
	Revenue         int64
	ActiveVouchers  int
}

// GetStats returns order and voucher statistics.
func (s *Store) GetStats() (*Stats, error) {
	st := &Stats{}

	row := s.conn.QueryRow(`SELECT COUNT(*) FROM orders`)
	if err := row.Scan(&st.TotalOrders); err != nil {
		return nil, err
	}

	row = s.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM orders WHERE status = 'completed'
	`)
	if err := row.Scan(&st.CompletedOrders, &st.Revenue); err != nil {
		return nil, err
	}

	row = s.conn.QueryRow(`SELECT COUNT(*) FROM vouchers WHERE status = 'active'`)
	if err := row.Scan(&st.ActiveVouchers); err != nil {
		return nil, err
	}

	return st, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var email, gatewayOrderID, trackingID sql.NullString
	err := row.Scan(&o.ID, &o.PackageID, &o.Phone, &email, &o.Amount, &o.PaymentMethod, &o.Status, &gatewayOrderID, &trackingID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		o.Email = email.String
	}
	if gatewayOrderID.Valid {
		o.GatewayOrderID = gatewayOrderID.String
	}
	if trackingID.Valid {
		o.GatewayTrackingID = trackingID.String
	}
	return o, nil
}
