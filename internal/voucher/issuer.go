package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namandi6/sonic-wifi.net/internal/mikrotik"
	"github.com/namandi6/sonic-wifi.net/internal/store"
)

// collisionRetries bounds regeneration attempts when a generated code is
// already held by an active voucher. After that the collision is accepted:
// issuing a duplicate code beats blocking a paid customer.
const collisionRetries = 3

// Issuer mints exactly one voucher per completed order and provisions it on
// the hotspot router best-effort.
type Issuer struct {
	store       *store.Store
	provisioner mikrotik.Provisioner
	generator   CodeGenerator
	logger      *zap.Logger
}

// NewIssuer creates a voucher issuer.
func NewIssuer(st *store.Store, provisioner mikrotik.Provisioner, generator CodeGenerator, logger *zap.Logger) *Issuer {
	if provisioner == nil {
		provisioner = &mikrotik.Noop{}
	}
	if generator == nil {
		generator = Numeric{Length: 4}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Issuer{
		store:       st,
		provisioner: provisioner,
		generator:   generator,
		logger:      logger,
	}
}

// Issue returns the voucher for an order, minting it on first call. Repeat
// calls (webhook after poll, duplicate webhook delivery, racing instances)
// all return the same voucher: the existing-row check plus the unique index
// on vouchers(order_id) make issuance idempotent.
func (i *Issuer) Issue(ctx context.Context, order *store.Order, pkg *store.Package) (*store.Voucher, error) {
	if existing, err := i.store.GetVoucherByOrder(order.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing voucher: %w", err)
	}

	code, err := i.generateCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	v := &store.Voucher{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		PackageID:  order.PackageID,
		Code:       code,
		Status:     store.VoucherActive,
		ValidHours: pkg.DurationHours,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(pkg.DurationHours) * time.Hour),
	}

	if err := i.store.CreateVoucher(v); err != nil {
		if errors.Is(err, store.ErrDuplicateVoucher) {
			// Lost the race against a concurrent Issue for the same order.
			existing, ferr := i.store.GetVoucherByOrder(order.ID)
			if ferr != nil {
				return nil, fmt.Errorf("failed to fetch voucher after duplicate insert: %w", ferr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create voucher: %w", err)
	}

	i.logger.Info("voucher issued",
		zap.String("order_id", order.ID),
		zap.String("code", v.Code),
		zap.Time("expires_at", v.ExpiresAt),
	)

	// Router provisioning never blocks issuance; the datastore record of
	// entitlement takes precedence over the network side effect.
	if err := i.provisioner.AddUser(ctx, v.Code, pkg.DurationHours, ProfileName(pkg.Name)); err != nil {
		i.logger.Warn("hotspot provisioning failed",
			zap.String("code", v.Code),
			zap.Error(err),
		)
	}

	return v, nil
}

func (i *Issuer) generateCode() (string, error) {
	var code string
	for attempt := 0; attempt <= collisionRetries; attempt++ {
		c, err := i.generator.Generate()
		if err != nil {
			return "", err
		}
		code = c

		taken, err := i.store.ActiveCodeExists(code)
		if err != nil {
			return "", fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	i.logger.Warn("accepting colliding voucher code after retries", zap.String("code", code))
	return code, nil
}

// ProfileName derives the router rate profile from a package name.
func ProfileName(packageName string) string {
	name := strings.ToLower(strings.TrimSpace(packageName))
	if name == "" {
		return "default"
	}
	return strings.Join(strings.Fields(name), "_")
}
