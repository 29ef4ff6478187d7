package voucher

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/namandi6/sonic-wifi.net/internal/store"
)

// recordingProvisioner records AddUser calls and can be made to fail.
type recordingProvisioner struct {
	mu    sync.Mutex
	added []string
	fail  bool
}

func (p *recordingProvisioner) AddUser(ctx context.Context, code string, durationHours int, profile string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("router unreachable")
	}
	p.added = append(p.added, code)
	return nil
}

func (p *recordingProvisioner) RemoveUser(ctx context.Context, code string) (bool, error) {
	return false, nil
}

func (p *recordingProvisioner) TestConnection(ctx context.Context) error { return nil }

func (p *recordingProvisioner) addCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.added)
}

// queueGenerator returns queued codes in order, repeating the last one.
type queueGenerator struct {
	mu    sync.Mutex
	codes []string
}

func (g *queueGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) > 1 {
		code := g.codes[0]
		g.codes = g.codes[1:]
		return code, nil
	}
	return g.codes[0], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedCompletedOrder(t *testing.T, st *store.Store) (*store.Order, *store.Package) {
	t.Helper()
	now := time.Now().UTC()

	pkg := &store.Package{
		ID:            uuid.New().String(),
		Name:          "Day Pass",
		Price:         1000,
		DurationHours: 24,
		IsActive:      true,
		CreatedAt:     now,
	}
	require.NoError(t, st.CreatePackage(pkg))

	o := &store.Order{
		ID:            uuid.New().String(),
		PackageID:     pkg.ID,
		Phone:         "0712345678",
		Amount:        pkg.Price,
		PaymentMethod: "mtn_momo",
		Status:        store.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateOrder(o))
	_, err := st.FinalizeOrder(o.ID, store.OrderCompleted)
	require.NoError(t, err)
	return o, pkg
}

func TestIssue(t *testing.T) {
	st := newTestStore(t)
	prov := &recordingProvisioner{}
	issuer := NewIssuer(st, prov, Numeric{Length: 4}, nil)
	o, pkg := seedCompletedOrder(t, st)

	v, err := issuer.Issue(context.Background(), o, pkg)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^\d{4}$`), v.Code)
	require.Equal(t, store.VoucherActive, v.Status)
	require.Equal(t, 24, v.ValidHours)
	require.WithinDuration(t, v.CreatedAt.Add(24*time.Hour), v.ExpiresAt, time.Second)
	require.Equal(t, []string{v.Code}, prov.added)
}

func TestIssueIdempotent(t *testing.T) {
	st := newTestStore(t)
	prov := &recordingProvisioner{}
	issuer := NewIssuer(st, prov, Numeric{Length: 4}, nil)
	o, pkg := seedCompletedOrder(t, st)

	first, err := issuer.Issue(context.Background(), o, pkg)
	require.NoError(t, err)

	// A webhook arriving after a poll already issued must get the same
	// voucher, with no second router add.
	second, err := issuer.Issue(context.Background(), o, pkg)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Code, second.Code)
	require.Equal(t, 1, prov.addCount())
}

func TestIssueRouterFailureIsolated(t *testing.T) {
	st := newTestStore(t)
	prov := &recordingProvisioner{fail: true}
	issuer := NewIssuer(st, prov, Numeric{Length: 4}, nil)
	o, pkg := seedCompletedOrder(t, st)

	v, err := issuer.Issue(context.Background(), o, pkg)
	require.NoError(t, err)

	stored, err := st.GetVoucherByOrder(o.ID)
	require.NoError(t, err)
	require.Equal(t, v.Code, stored.Code)
}

func TestIssueRegeneratesOnCollision(t *testing.T) {
	st := newTestStore(t)
	issuer := NewIssuer(st, nil, &queueGenerator{codes: []string{"1234", "1234", "5678"}}, nil)

	first, firstPkg := seedCompletedOrder(t, st)
	v1, err := issuer.Issue(context.Background(), first, firstPkg)
	require.NoError(t, err)
	require.Equal(t, "1234", v1.Code)

	// The second order first draws the taken code and must regenerate.
	second, secondPkg := seedCompletedOrder(t, st)
	v2, err := issuer.Issue(context.Background(), second, secondPkg)
	require.NoError(t, err)
	require.Equal(t, "5678", v2.Code)
}

func TestIssueAcceptsCollisionAfterRetries(t *testing.T) {
	st := newTestStore(t)
	issuer := NewIssuer(st, nil, &queueGenerator{codes: []string{"1234"}}, nil)

	first, firstPkg := seedCompletedOrder(t, st)
	_, err := issuer.Issue(context.Background(), first, firstPkg)
	require.NoError(t, err)

	// The generator can only ever produce "1234"; issuance accepts the
	// collision instead of blocking a paid customer.
	second, secondPkg := seedCompletedOrder(t, st)
	v, err := issuer.Issue(context.Background(), second, secondPkg)
	require.NoError(t, err)
	require.Equal(t, "1234", v.Code)
}

func TestConcurrentIssueMintsOneVoucher(t *testing.T) {
	st := newTestStore(t)
	prov := &recordingProvisioner{}
	issuer := NewIssuer(st, prov, Numeric{Length: 4}, nil)
	o, pkg := seedCompletedOrder(t, st)

	const workers = 8
	codes := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := issuer.Issue(context.Background(), o, pkg)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = v.Code
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, codes[0], codes[i])
	}
}

func TestNumericGenerator(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		g := Numeric{Length: length}
		code, err := g.Generate()
		require.NoError(t, err)
		require.Len(t, code, length)
		require.Regexp(t, regexp.MustCompile(`^\d+$`), code)
	}

	code, err := Numeric{}.Generate()
	require.NoError(t, err)
	require.Len(t, code, 4)
}

func TestLegacyGenerator(t *testing.T) {
	code, err := Legacy{}.Generate()
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`), code)
}

func TestProfileName(t *testing.T) {
	require.Equal(t, "day_pass", ProfileName("Day Pass"))
	require.Equal(t, "weekly_surf", ProfileName("  Weekly   Surf "))
	require.Equal(t, "default", ProfileName(""))
}
