// Package mikrotik provides hotspot user provisioning on a MikroTik router.
package mikrotik

import "context"

// Provisioner defines the interface for hotspot access control. The voucher
// code is both the hotspot username and its password.
type Provisioner interface {
	// AddUser creates a hotspot credential for a voucher code with an
	// uptime limit derived from durationHours.
	AddUser(ctx context.Context, code string, durationHours int, profile string) error

	// RemoveUser deletes the hotspot user for a voucher code and kicks any
	// active session. Returns false without error when the router is
	// unreachable or the user is absent; callers never fail on that.
	RemoveUser(ctx context.Context, code string) (bool, error)

	// TestConnection tests the connection to the router.
	TestConnection(ctx context.Context) error
}

// Noop is used when no router is configured. The system then remains a
// payment-and-voucher ledger without any network side effects.
type Noop struct{}

// AddUser does nothing.
func (n *Noop) AddUser(ctx context.Context, code string, durationHours int, profile string) error {
	return nil
}

// RemoveUser does nothing.
func (n *Noop) RemoveUser(ctx context.Context, code string) (bool, error) {
	return false, nil
}

// TestConnection always succeeds.
func (n *Noop) TestConnection(ctx context.Context) error {
	return nil
}
