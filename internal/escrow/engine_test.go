package escrow

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limitvault/internal/vault"
)

var (
	testProgram = Program{ID: common.HexToHash("0x5eed")}
	ownerA      = common.HexToHash("0xa0")
	ownerB      = common.HexToHash("0xb0")
	crankC      = common.HexToHash("0xc0")
	assetX      = common.HexToHash("0x0f")
	mintM       = common.HexToHash("0x4d")
)

type fixture struct {
	engine    *Engine
	store     Store
	vault     *vault.Memory
	primary   *Entry
	secondary *Entry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store Store) *fixture {
	t.Helper()
	v := vault.NewMemory()
	require.NoError(t, v.CreditNative(ownerA, 1_000_000))
	require.NoError(t, v.CreditNative(ownerB, 1_000_000))
	v.RegisterMint(mintM, 6)
	require.NoError(t, v.CreditAsset(mintM, ownerA, 10_000_000))

	eng := NewEngine(testProgram, store, v)
	eng.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return &fixture{
		engine:    eng,
		store:     store,
		vault:     v,
		primary:   eng.Entry(Primary),
		secondary: eng.Entry(Secondary),
	}
}

func (f *fixture) initialize(t *testing.T, owner common.Hash, orderID uint64) common.Hash {
	t.Helper()
	rec, err := f.primary.Initialize(context.Background(), owner, orderID)
	require.NoError(t, err)
	return rec.Address
}

func (f *fixture) get(t *testing.T, addr common.Hash) Record {
	t.Helper()
	rec, err := f.engine.Get(context.Background(), addr)
	require.NoError(t, err)
	return rec
}

func TestInitializeDefaults(t *testing.T) {
	f := newFixture(t)
	rec, err := f.primary.Initialize(context.Background(), ownerA, 7)
	require.NoError(t, err)

	require.Equal(t, testProgram.DeriveAddress(ownerA, 7), rec.Address)
	require.Equal(t, Account{Owner: ownerA, OrderID: 7}, rec.Account)
	require.Equal(t, Primary, rec.Domain)
	require.False(t, rec.Account.LimitOrder.IsActive)
	require.Equal(t, Buy, rec.Account.LimitOrder.OrderType)
}

func TestInitializeTwiceFailsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 7)
	_, err := f.primary.DepositNative(ctx, ownerA, addr, 50)
	require.NoError(t, err)
	before := f.get(t, addr)

	_, err = f.primary.Initialize(ctx, ownerA, 7)
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, "AlreadyExists", Kind(err))
	require.Equal(t, before, f.get(t, addr))

	_, err = f.primary.Initialize(ctx, ownerA, 8)
	require.NoError(t, err, "different order id is a different record")
}

func TestInitializeOnSecondaryIsWrongDomain(t *testing.T) {
	f := newFixture(t)
	_, err := f.secondary.Initialize(context.Background(), ownerA, 1)
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.engine.Get(context.Background(), testProgram.DeriveAddress(ownerA, 1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDepositNativeAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)

	var sum uint64
	for _, amt := range []uint64{1, 10, 0, 250, 4_000} {
		rec, err := f.primary.DepositNative(ctx, ownerA, addr, amt)
		require.NoError(t, err)
		sum += amt
		require.Equal(t, sum, rec.Account.Balance)
	}
	require.Equal(t, sum, f.vault.NativeBalance(addr))
	require.Equal(t, uint64(1_000_000)-sum, f.vault.NativeBalance(ownerA))
}

func TestDepositNativeOverflowAppliesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.vault.CreditNative(ownerB, math.MaxUint64-1_000_000))
	addr := f.initialize(t, ownerB, 1)

	_, err := f.primary.DepositNative(ctx, ownerB, addr, 10)
	require.NoError(t, err)
	ownerFunds := f.vault.NativeBalance(ownerB)

	_, err = f.primary.DepositNative(ctx, ownerB, addr, math.MaxUint64-5)
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, uint64(10), f.get(t, addr).Account.Balance)
	require.Equal(t, ownerFunds, f.vault.NativeBalance(ownerB), "no transfer before the overflow check")
}

func TestDepositNativeTransferFailureLeavesBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)

	_, err := f.primary.DepositNative(ctx, ownerA, addr, 2_000_000)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
	require.Zero(t, f.get(t, addr).Account.Balance)
}

type failingCommitStore struct {
	Store
}

func (s failingCommitStore) Update(ctx context.Context, addr common.Hash, fn func(context.Context, *Record) error) error {
	rec, err := s.Store.Get(ctx, addr)
	if err != nil {
		return err
	}
	if err := fn(ctx, &rec); err != nil {
		return err
	}
	return errors.New("commit failed")
}

func TestDepositNativeRevertsTransferWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	f := newFixtureWithStore(t, failingCommitStore{Store: mem})
	rec, err := f.primary.Initialize(ctx, ownerA, 1)
	require.NoError(t, err)

	_, err = f.primary.DepositNative(ctx, ownerA, rec.Address, 500)
	require.Error(t, err)
	require.Equal(t, uint64(1_000_000), f.vault.NativeBalance(ownerA))
	require.Zero(t, f.vault.NativeBalance(rec.Address))
}

func TestBuyOrderRequiresBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 7)

	_, err := f.primary.DepositNative(ctx, ownerA, addr, 1000)
	require.NoError(t, err)

	rec, err := f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Buy, Asset: assetX, LimitPrice: 800})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rec.Account.Balance)
	require.True(t, rec.Account.LimitOrder.IsActive)
	prior := f.get(t, addr)

	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Buy, Asset: assetX, LimitPrice: 1500})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, prior, f.get(t, addr))
}

func TestCreateOrderOverwritesActiveOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.DepositNative(ctx, ownerA, addr, 100)
	require.NoError(t, err)

	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Buy, Asset: assetX, LimitPrice: 100})
	require.NoError(t, err)
	rec, err := f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Sell, Asset: mintM, LimitPrice: 5_000})
	require.NoError(t, err, "sell orders are not checked against the balance")
	require.Equal(t, LimitOrder{IsActive: true, OrderType: Sell, Asset: mintM, LimitPrice: 5_000}, rec.Account.LimitOrder)

	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: OrderType(9)})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCancelThenExecuteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)

	rec, err := f.primary.CancelLimitOrder(ctx, ownerA, addr)
	require.NoError(t, err, "cancel is allowed on an inactive order")
	require.False(t, rec.Account.LimitOrder.IsActive)

	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Sell, Asset: assetX, LimitPrice: 42})
	require.NoError(t, err)
	rec, err = f.primary.CancelLimitOrder(ctx, ownerA, addr)
	require.NoError(t, err)
	require.Equal(t, LimitOrder{OrderType: Sell, Asset: assetX, LimitPrice: 42}, rec.Account.LimitOrder)

	_, err = f.primary.ExecuteLimitOrder(ctx, crankC, addr)
	require.ErrorIs(t, err, ErrOrderNotActive)
}

func TestExecuteRecordsEveryFiring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Sell, Asset: assetX, LimitPrice: 3})
	require.NoError(t, err)
	before := f.get(t, addr)

	first, err := f.primary.ExecuteLimitOrder(ctx, crankC, addr)
	require.NoError(t, err)
	second, err := f.primary.ExecuteLimitOrder(ctx, ownerB, addr)
	require.NoError(t, err, "any signer may crank without an allowlist")

	require.Equal(t, EventTypeOrderExecuted, first.Type)
	require.Equal(t, crankC.Hex(), first.Attributes["crank"])
	require.Greater(t, second.Sequence, first.Sequence)
	require.Equal(t, before, f.get(t, addr), "execution does not change state")
}

func TestExecuteHonoursCrankAllowlist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.SetCrankAllowlist([]common.Hash{crankC})
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Sell, LimitPrice: 1})
	require.NoError(t, err)

	_, err = f.primary.ExecuteLimitOrder(ctx, ownerB, addr)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.primary.ExecuteLimitOrder(ctx, crankC, addr)
	require.NoError(t, err)
}

func TestOwnerOnlyOperationsRejectOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.DepositNative(ctx, ownerA, addr, 100)
	require.NoError(t, err)
	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Buy, LimitPrice: 10})
	require.NoError(t, err)
	before := f.get(t, addr)

	_, err = f.primary.CreateLimitOrder(ctx, ownerB, addr, OrderRequest{OrderType: Buy, LimitPrice: 1})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.primary.CancelLimitOrder(ctx, ownerB, addr)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.primary.Delegate(ctx, ownerB, ownerA, 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.primary.DepositNative(ctx, ownerB, addr, 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.primary.DepositAsset(ctx, ownerB, addr, mintM, 1)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.Equal(t, before, f.get(t, addr))
}

func TestDelegationMovesWriteAuthority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 7)
	control := f.initialize(t, ownerA, 8)

	rec, err := f.primary.Delegate(ctx, ownerA, ownerA, 7)
	require.NoError(t, err)
	require.Equal(t, Secondary, rec.Domain)

	_, err = f.primary.DepositNative(ctx, ownerA, addr, 1000)
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Buy, LimitPrice: 1})
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.primary.CancelLimitOrder(ctx, ownerA, addr)
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.primary.ExecuteLimitOrder(ctx, crankC, addr)
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.primary.DepositAsset(ctx, ownerA, addr, mintM, 1)
	require.ErrorIs(t, err, ErrWrongDomain)
	require.Zero(t, f.get(t, addr).Account.Balance)

	// The same sequence on the secondary domain and on an undelegated control
	// record must end in the same account state.
	for _, step := range []struct {
		entry *Entry
		addr  common.Hash
	}{{f.secondary, addr}, {f.primary, control}} {
		rec, err := step.entry.DepositNative(ctx, ownerA, step.addr, 1000)
		require.NoError(t, err)
		require.Equal(t, uint64(1000), rec.Account.Balance)
		_, err = step.entry.CreateLimitOrder(ctx, ownerA, step.addr, OrderRequest{OrderType: Buy, Asset: assetX, LimitPrice: 800})
		require.NoError(t, err)
		_, err = step.entry.ExecuteLimitOrder(ctx, crankC, step.addr)
		require.NoError(t, err)
	}
	delegated, plain := f.get(t, addr), f.get(t, control)
	plain.Account.OrderID = delegated.Account.OrderID
	require.Equal(t, plain.Account, delegated.Account)

	_, err = f.secondary.DepositNative(ctx, ownerA, control, 1)
	require.ErrorIs(t, err, ErrWrongDomain, "secondary may not write undelegated records")
}

func TestDelegateIsIdempotentAndNeedsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.primary.Delegate(ctx, ownerA, ownerA, 99)
	require.ErrorIs(t, err, ErrNotFound)

	f.initialize(t, ownerA, 1)
	_, err = f.primary.Delegate(ctx, ownerA, ownerA, 1)
	require.NoError(t, err)
	rec, err := f.primary.Delegate(ctx, ownerA, ownerA, 1)
	require.NoError(t, err)
	require.Equal(t, Secondary, rec.Domain)

	_, err = f.secondary.Delegate(ctx, ownerA, ownerA, 1)
	require.ErrorIs(t, err, ErrWrongDomain)

	events, err := f.engine.Events(ctx, rec.Address)
	require.NoError(t, err)
	require.Len(t, events, 2, "initialized plus a single delegated event")
}

func TestUndelegateReturnsAuthority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.Delegate(ctx, ownerA, ownerA, 1)
	require.NoError(t, err)
	_, err = f.secondary.DepositNative(ctx, ownerA, addr, 5)
	require.NoError(t, err)

	rec, err := f.engine.Undelegate(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, Primary, rec.Domain)
	require.Equal(t, uint64(5), rec.Account.Balance)

	_, err = f.secondary.DepositNative(ctx, ownerA, addr, 5)
	require.ErrorIs(t, err, ErrWrongDomain)
	_, err = f.primary.DepositNative(ctx, ownerA, addr, 5)
	require.NoError(t, err)
}

func TestDepositAssetUsesSeparateLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)

	receipt, err := f.primary.DepositAsset(ctx, ownerA, addr, mintM, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000), receipt.Units)
	require.Equal(t, testProgram.HoldingAddress(addr, mintM), receipt.Holding)
	require.Zero(t, receipt.Escrow.Account.Balance, "asset deposits never touch the native balance")

	holding, units, err := f.engine.AssetHolding(ctx, addr, mintM)
	require.NoError(t, err)
	require.Equal(t, receipt.Holding, holding)
	require.Equal(t, uint64(3_000_000), units)

	_, err = f.primary.DepositAsset(ctx, ownerA, addr, mintM, 8)
	require.ErrorIs(t, err, ErrTransferFailed)
	_, units, err = f.engine.AssetHolding(ctx, addr, mintM)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000), units)

	_, err = f.primary.DepositAsset(ctx, ownerA, addr, mintM, math.MaxUint64/10)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = f.primary.DepositAsset(ctx, ownerA, addr, assetX, 1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConcurrentDepositsSerialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.initialize(t, ownerA, 1)
	other := f.initialize(t, ownerB, 1)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.primary.DepositNative(ctx, ownerA, addr, 3)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.primary.DepositNative(ctx, ownerB, other, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(192), f.get(t, addr).Account.Balance)
	require.Equal(t, uint64(64), f.get(t, other).Account.Balance)
}

func TestEventsAndActiveOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.initialize(t, ownerA, 1)
	b := f.initialize(t, ownerB, 2)
	_, err := f.primary.DepositNative(ctx, ownerA, a, 10)
	require.NoError(t, err)
	_, err = f.primary.CreateLimitOrder(ctx, ownerA, a, OrderRequest{OrderType: Buy, LimitPrice: 10})
	require.NoError(t, err)
	_, err = f.primary.CreateLimitOrder(ctx, ownerB, b, OrderRequest{OrderType: Sell, LimitPrice: 10})
	require.NoError(t, err)
	_, err = f.primary.CancelLimitOrder(ctx, ownerB, b)
	require.NoError(t, err)

	active, err := f.engine.ActiveOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a, active[0].Address)

	events, err := f.engine.Events(ctx, a)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
		require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), evt.At)
	}
	require.Equal(t, []string{EventTypeInitialized, EventTypeNativeDeposit, EventTypeOrderCreated}, types)

	_, err = f.engine.Events(ctx, testProgram.DeriveAddress(ownerA, 404))
	require.ErrorIs(t, err, ErrNotFound)
}

// gatedJournal parks the first execution append until release is closed.
type gatedJournal struct {
	Journal
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedJournal) Append(ctx context.Context, evt Event) (Event, error) {
	if evt.Type == EventTypeOrderExecuted {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.Journal.Append(ctx, evt)
}

type failingJournal struct {
	Journal
	failOn string
}

func (j failingJournal) Append(ctx context.Context, evt Event) (Event, error) {
	if evt.Type == j.failOn {
		return Event{}, errors.New("journal unavailable")
	}
	return j.Journal.Append(ctx, evt)
}

func TestExecuteAndCancelJournalInCommitOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gate := &gatedJournal{Journal: NewMemoryJournal(), entered: make(chan struct{}), release: make(chan struct{})}
	f.engine.SetJournal(gate)
	addr := f.initialize(t, ownerA, 1)
	_, err := f.primary.CreateLimitOrder(ctx, ownerA, addr, OrderRequest{OrderType: Sell, LimitPrice: 7})
	require.NoError(t, err)

	execDone := make(chan error, 1)
	go func() {
		_, err := f.primary.ExecuteLimitOrder(ctx, crankC, addr)
		execDone <- err
	}()
	<-gate.entered

	cancelDone := make(chan error, 1)
	go func() {
		_, err := f.primary.CancelLimitOrder(ctx, ownerA, addr)
		cancelDone <- err
	}()
	select {
	case err := <-cancelDone:
		t.Fatalf("cancel completed while the execution was still journaling: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-execDone)
	require.NoError(t, <-cancelDone)

	events, err := f.engine.Events(ctx, addr)
	require.NoError(t, err)
	require.Len(t, events, 4)
	types := make([]string, 0, len(events))
	for i, evt := range events {
		types = append(types, evt.Type)
		require.Equal(t, uint64(i+1), evt.Sequence)
	}
	require.Equal(t, []string{EventTypeInitialized, EventTypeOrderCreated, EventTypeOrderExecuted, EventTypeOrderCancelled}, types)
	require.Equal(t, "true", events[2].Attributes["active"])
	require.False(t, f.get(t, addr).Account.LimitOrder.IsActive)
}

func TestJournalFailureDiscardsChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.SetJournal(failingJournal{Journal: NewMemoryJournal(), failOn: EventTypeNativeDeposit})
	addr := f.initialize(t, ownerA, 1)

	_, err := f.primary.DepositNative(ctx, ownerA, addr, 500)
	require.Error(t, err)
	require.Zero(t, f.get(t, addr).Account.Balance)
	require.Equal(t, uint64(1_000_000), f.vault.NativeBalance(ownerA), "transfer is reverted")
	require.Zero(t, f.vault.NativeBalance(addr))

	f.engine.SetJournal(failingJournal{Journal: NewMemoryJournal(), failOn: EventTypeInitialized})
	_, err = f.primary.Initialize(ctx, ownerA, 2)
	require.Error(t, err)
	_, err = f.engine.Get(ctx, testProgram.DeriveAddress(ownerA, 2))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEventsAreNumberedPerRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.initialize(t, ownerA, 1)
	b := f.initialize(t, ownerB, 1)
	_, err := f.primary.DepositNative(ctx, ownerA, a, 1)
	require.NoError(t, err)
	_, err = f.primary.DepositNative(ctx, ownerB, b, 1)
	require.NoError(t, err)
	_, err = f.primary.DepositNative(ctx, ownerA, a, 1)
	require.NoError(t, err)

	for addr, want := range map[common.Hash][]uint64{a: {1, 2, 3}, b: {1, 2}} {
		events, err := f.engine.Events(ctx, addr)
		require.NoError(t, err)
		got := make([]uint64, 0, len(events))
		for _, evt := range events {
			got = append(got, evt.Sequence)
		}
		require.Equal(t, want, got)
	}
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "WrongDomain", Kind(errors.Join(errors.New("x"), ErrWrongDomain)))
	require.Equal(t, "Internal", Kind(errors.New("boom")))
}
