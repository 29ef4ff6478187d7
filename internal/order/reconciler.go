// Package order implements order creation and payment reconciliation.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namandi6/sonic-wifi.net/internal/pesapal"
	"github.com/namandi6/sonic-wifi.net/internal/store"
	"github.com/namandi6/sonic-wifi.net/internal/voucher"
)

// ErrPackageUnavailable is returned when the requested package does not
// exist or is no longer active.
var ErrPackageUnavailable = errors.New("order: package unavailable")

// ErrGatewayUnavailable is returned when the payment gateway is not
// configured. Surfaced to customers as "payment temporarily unavailable".
var ErrGatewayUnavailable = errors.New("order: payment gateway unavailable")

// ErrOrderNotFound is returned when reconciliation targets an unknown order.
var ErrOrderNotFound = errors.New("order: not found")

// Gateway is the subset of the Pesapal client the reconciler depends on.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	RegisterIPN(ctx context.Context, token, ipnURL string) (string, error)
	SubmitOrder(ctx context.Context, token string, req pesapal.OrderRequest, ipnID string) (*pesapal.SubmitResult, error)
	GetTransactionStatus(ctx context.Context, token, trackingID string) (string, error)
}

// Options configures the reconciler.
type Options struct {
	CallbackURL      string
	IPNURL           string
	GatewayConfigured bool
}

// Reconciler drives the pending → completed/failed order state machine and
// triggers voucher issuance exactly once per paid order.
type Reconciler struct {
	store   *store.Store
	gateway Gateway
	issuer  *voucher.Issuer
	opts    Options
	logger  *zap.Logger
}

// NewReconciler creates an order reconciler.
func NewReconciler(st *store.Store, gateway Gateway, issuer *voucher.Issuer, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		store:   st,
		gateway: gateway,
		issuer:  issuer,
		opts:    opts,
		logger:  logger,
	}
}

// CreateRequest carries the customer's package selection.
type CreateRequest struct {
	PackageID     string
	Phone         string
	Email         string
	PaymentMethod string
}

// CreateResult carries the redirect target for the gateway-hosted checkout.
type CreateResult struct {
	Order       *store.Order
	RedirectURL string
}

// CreateOrder validates the package, records a pending order and submits it
// to the gateway. On submit failure the pending row is retained as a
// historical attempt for manual reconciliation.
func (r *Reconciler) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if !r.opts.GatewayConfigured {
		return nil, ErrGatewayUnavailable
	}

	pkg, err := r.store.GetPackage(req.PackageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPackageUnavailable
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	if !pkg.IsActive {
		return nil, ErrPackageUnavailable
	}

	now := time.Now().UTC()
	o := &store.Order{
		ID:        uuid.New().String(),
		PackageID: pkg.ID,
		Phone:     req.Phone,
		Email:     req.Email,
		// Price is copied so later catalog edits never alter history.
		Amount:        pkg.Price,
		PaymentMethod: req.PaymentMethod,
		Status:        store.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.CreateOrder(o); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	token, err := r.gateway.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway auth failed for order %s: %w", o.ID, err)
	}

	ipnID, err := r.gateway.RegisterIPN(ctx, token, r.opts.IPNURL)
	if err != nil {
		r.logger.Warn("IPN registration failed, submitting without notification id",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}

	result, err := r.gateway.SubmitOrder(ctx, token, pesapal.OrderRequest{
		OrderID:     o.ID,
		Amount:      o.Amount,
		Description: "Sonic Net Wi-Fi - " + pkg.Name,
		CallbackURL: r.opts.CallbackURL,
		Phone:       o.Phone,
		Email:       o.Email,
	}, ipnID)
	if err != nil {
		return nil, fmt.Errorf("submit failed for order %s: %w", o.ID, err)
	}

	if err := r.store.SetOrderGateway(o.ID, result.TrackingID, result.TrackingID); err != nil {
		return nil, fmt.Errorf("failed to record gateway ids: %w", err)
	}
	o.GatewayOrderID = result.TrackingID
	o.GatewayTrackingID = result.TrackingID

	r.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("package_id", pkg.ID),
		zap.Int64("amount", o.Amount),
		zap.String("tracking_id", result.TrackingID),
	)

	return &CreateResult{Order: o, RedirectURL: result.RedirectURL}, nil
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Status  store.OrderStatus
	Voucher *store.Voucher
}

// Reconcile converges an order's local status with the gateway's reported
// status. It is the single idempotent convergence point for both the webhook
// and the polling entry points.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*Result, error) {
	o, err := r.store.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	// A minted voucher means the order is settled; repeated webhook
	// deliveries and post-success polls short-circuit here.
	if v, err := r.store.GetVoucherByOrder(o.ID); err == nil {
		return &Result{Status: store.OrderCompleted, Voucher: v}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check voucher: %w", err)
	}

	// Terminal orders stay terminal; no re-query can change the outcome.
	if o.Status.Terminal() {
		return &Result{Status: o.Status}, nil
	}

	// Nothing to reconcile until the gateway has acknowledged the order.
	if o.GatewayTrackingID == "" {
		return &Result{Status: o.Status}, nil
	}

	token, err := r.gateway.Authenticate(ctx)
	if err != nil {
		r.logger.Warn("gateway auth failed during reconcile, staying pending",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return &Result{Status: store.OrderPending}, nil
	}

	raw, err := r.gateway.GetTransactionStatus(ctx, token, o.GatewayTrackingID)
	if err != nil {
		// Transient query failure is "unknown, retry later", never a
		// failure of the order itself.
		r.logger.Warn("status query failed, staying pending",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return &Result{Status: store.OrderPending}, nil
	}

	switch MapGatewayStatus(raw) {
	case store.OrderCompleted:
		return r.complete(ctx, o)
	case store.OrderFailed:
		if _, err := r.store.FinalizeOrder(o.ID, store.OrderFailed); err != nil {
			return nil, fmt.Errorf("failed to record failed order: %w", err)
		}
		r.logger.Info("order failed",
			zap.String("order_id", o.ID),
			zap.String("gateway_status", raw),
		)
		return &Result{Status: store.OrderFailed}, nil
	default:
		return &Result{Status: store.OrderPending}, nil
	}
}

func (r *Reconciler) complete(ctx context.Context, o *store.Order) (*Result, error) {
	first, err := r.store.FinalizeOrder(o.ID, store.OrderCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to record completed order: %w", err)
	}
	if first {
		r.logger.Info("order completed", zap.String("order_id", o.ID))
	}

	pkg, err := r.store.GetPackage(o.PackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load package for voucher: %w", err)
	}

	v, err := r.issuer.Issue(ctx, o, pkg)
	if err != nil {
		return nil, fmt.Errorf("failed to issue voucher: %w", err)
	}

	return &Result{Status: store.OrderCompleted, Voucher: v}, nil
}

// HandleWebhook processes an inbound IPN delivery. An unknown merchant
// reference is acknowledged without mutating anything so the gateway stops
// retrying; the callback may race the local order commit or belong to an
// unrelated transaction.
func (r *Reconciler) HandleWebhook(ctx context.Context, trackingID, merchantRef string) {
	if merchantRef == "" {
		r.logger.Warn("webhook without merchant reference", zap.String("tracking_id", trackingID))
		return
	}

	o, err := r.store.GetOrder(merchantRef)
	if err != nil {
		r.logger.Info("webhook for unknown order acknowledged",
			zap.String("merchant_ref", merchantRef),
			zap.String("tracking_id", trackingID),
		)
		return
	}

	if o.GatewayTrackingID == "" && trackingID != "" {
		if err := r.store.SetOrderTrackingID(o.ID, trackingID); err != nil {
			r.logger.Warn("failed to record tracking id from webhook",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	if _, err := r.Reconcile(ctx, o.ID); err != nil {
		r.logger.Warn("webhook reconciliation failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// MapGatewayStatus maps the gateway's free-text payment status onto the
// three-way order taxonomy. Unknown strings stay pending rather than failing
// closed; "reversed" and "invalid" are terminal at the gateway and map to
// failed so orders cannot hang in pending forever.
func MapGatewayStatus(raw string) store.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return store.OrderCompleted
	case "failed", "cancelled", "reversed", "invalid":
		return store.OrderFailed
	default:
		return store.OrderPending
	}
}
