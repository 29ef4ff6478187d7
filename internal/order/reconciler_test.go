package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/namandi6/sonic-wifi.net/internal/pesapal"
	"github.com/namandi6/sonic-wifi.net/internal/store"
	"github.com/namandi6/sonic-wifi.net/internal/voucher"
)

// fakeGateway simulates the Pesapal API.
type fakeGateway struct {
	mu         sync.Mutex
	status     string
	statusErr  error
	submitErr  error
	queryCalls int
}

func (g *fakeGateway) Authenticate(ctx context.Context) (string, error) {
	return "test-token", nil
}

func (g *fakeGateway) RegisterIPN(ctx context.Context, token, ipnURL string) (string, error) {
	return "ipn-1", nil
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, token string, req pesapal.OrderRequest, ipnID string) (*pesapal.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return &pesapal.SubmitResult{
		RedirectURL: "https://pay.test/checkout/" + req.OrderID,
		TrackingID:  "track-" + req.OrderID,
	}, nil
}

func (g *fakeGateway) GetTransactionStatus(ctx context.Context, token, trackingID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	return g.status, g.statusErr
}

func (g *fakeGateway) queries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

type fixture struct {
	store      *store.Store
	gateway    *fakeGateway
	reconciler *Reconciler
	pkg        *store.Package
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pkg := &store.Package{
		ID:            uuid.New().String(),
		Name:          "Day Pass",
		Price:         100,
		DurationHours: 24,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CreatePackage(pkg))

	gateway := &fakeGateway{status: "PENDING"}
	issuer := voucher.NewIssuer(st, nil, voucher.Numeric{Length: 4}, nil)
	reconciler := NewReconciler(st, gateway, issuer, Options{
		CallbackURL:       "https://portal.test/callback",
		IPNURL:            "https://portal.test/payments/ipn",
		GatewayConfigured: true,
	}, nil)

	return &fixture{store: st, gateway: gateway, reconciler: reconciler, pkg: pkg}
}

func (f *fixture) createOrder(t *testing.T) *store.Order {
	t.Helper()
	result, err := f.reconciler.CreateOrder(context.Background(), CreateRequest{
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		PaymentMethod: "mtn_momo",
	})
	require.NoError(t, err)
	return result.Order
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	result, err := f.reconciler.CreateOrder(context.Background(), CreateRequest{
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		Email:         "customer@example.test",
		PaymentMethod: "mtn_momo",
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.test/checkout/"+result.Order.ID, result.RedirectURL)

	stored, err := f.store.GetOrder(result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, stored.Status)
	require.Equal(t, int64(100), stored.Amount)
	require.Equal(t, "track-"+result.Order.ID, stored.GatewayTrackingID)
}

func TestCreateOrderGatewayNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.reconciler.opts.GatewayConfigured = false

	_, err := f.reconciler.CreateOrder(context.Background(), CreateRequest{
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		PaymentMethod: "mtn_momo",
	})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCreateOrderInactivePackage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DeactivatePackage(f.pkg.ID))

	_, err := f.reconciler.CreateOrder(context.Background(), CreateRequest{
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		PaymentMethod: "mtn_momo",
	})
	require.ErrorIs(t, err, ErrPackageUnavailable)
}

func TestCreateOrderSubmitFailureKeepsRow(t *testing.T) {
	f := newFixture(t)
	f.gateway.submitErr = &pesapal.SubmitError{Body: "no redirect"}

	_, err := f.reconciler.CreateOrder(context.Background(), CreateRequest{
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		PaymentMethod: "mtn_momo",
	})
	require.Error(t, err)

	// The pending row is retained as a historical attempt for manual
	// reconciliation.
	orders, err := f.store.ListRecentOrders(10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, store.OrderPending, orders[0].Status)
	require.Empty(t, orders[0].GatewayTrackingID)
}

func TestReconcileCompleted(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "COMPLETED"

	result, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderCompleted, result.Status)
	require.NotNil(t, result.Voucher)
	require.Len(t, result.Voucher.Code, 4)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), result.Voucher.ExpiresAt, time.Minute)

	stored, err := f.store.GetOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderCompleted, stored.Status)
}

func TestReconcileIdempotentAfterCompletion(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "Completed"

	first, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	queriesAfterFirst := f.gateway.queries()

	for i := 0; i < 5; i++ {
		again, err := f.reconciler.Reconcile(context.Background(), o.ID)
		require.NoError(t, err)
		require.Equal(t, store.OrderCompleted, again.Status)
		require.Equal(t, first.Voucher.Code, again.Voucher.Code)
	}

	// The voucher short-circuit means no further gateway traffic.
	require.Equal(t, queriesAfterFirst, f.gateway.queries())
}

func TestReconcileFailed(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "FAILED"

	result, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderFailed, result.Status)
	require.Nil(t, result.Voucher)

	_, err = f.store.GetVoucherByOrder(o.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// A second call returns the stored terminal status without asking the
	// gateway again.
	queries := f.gateway.queries()
	again, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderFailed, again.Status)
	require.Equal(t, queries, f.gateway.queries())
}

func TestReconcilePendingUnchanged(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "PENDING"

	result, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, result.Status)

	stored, err := f.store.GetOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, stored.Status)
}

func TestReconcileQueryFailureStaysPending(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.statusErr = &pesapal.QueryError{Err: errors.New("timeout")}

	// A transient query failure must never flip the order to failed.
	result, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, result.Status)

	stored, err := f.store.GetOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, stored.Status)
}

func TestReconcileNoTrackingID(t *testing.T) {
	f := newFixture(t)

	now := time.Now().UTC()
	o := &store.Order{
		ID:            uuid.New().String(),
		PackageID:     f.pkg.ID,
		Phone:         "0712345678",
		Amount:        100,
		PaymentMethod: "mtn_momo",
		Status:        store.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.CreateOrder(o))

	result, err := f.reconciler.Reconcile(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, store.OrderPending, result.Status)
	require.Zero(t, f.gateway.queries())
}

func TestReconcileUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Reconcile(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestHandleWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t)

	f.reconciler.HandleWebhook(context.Background(), "track-x", "no-such-order")

	orders, err := f.store.ListRecentOrders(10)
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Zero(t, f.gateway.queries())
}

func TestHandleWebhookCompletesOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "COMPLETED"

	f.reconciler.HandleWebhook(context.Background(), "track-"+o.ID, o.ID)

	v, err := f.store.GetVoucherByOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, store.VoucherActive, v.Status)
}

func TestConcurrentReconcileMintsOneVoucher(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t)
	f.gateway.status = "COMPLETED"

	const workers = 6
	codes := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.reconciler.Reconcile(context.Background(), o.ID)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = result.Voucher.Code
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, codes[0], codes[i])
	}

	v, err := f.store.GetVoucherByOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, codes[0], v.Code)
}

func TestMapGatewayStatus(t *testing.T) {
	cases := map[string]store.OrderStatus{
		"COMPLETED":   store.OrderCompleted,
		"Completed":   store.OrderCompleted,
		" completed ": store.OrderCompleted,
		"FAILED":      store.OrderFailed,
		"failed":      store.OrderFailed,
		"Cancelled":   store.OrderFailed,
		"Reversed":    store.OrderFailed,
		"Invalid":     store.OrderFailed,
		"PENDING":     store.OrderPending,
		"Processing":  store.OrderPending,
		"":            store.OrderPending,
		"whatever":    store.OrderPending,
	}
	for raw, want := range cases {
		require.Equal(t, want, MapGatewayStatus(raw), "status %q", raw)
	}
}
