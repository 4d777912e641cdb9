package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bentapos/backend/internal/cart"
	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/store"
	"bentapos/backend/internal/store/memory"
)

type adjustCall struct {
	productID          string
	stockDelta         int
	purchaseCountDelta int
}

type fakeLedger struct {
	mu           sync.Mutex
	calls        []adjustCall
	failOn       map[string]error // returned on every decrement for the product
	failRevert   map[string]error // returned on every increment for the product
	transientFor map[string]int   // fail this many times before succeeding
}

func (f *fakeLedger) AdjustInventory(_ context.Context, productID string, stockDelta int, purchaseCountDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, adjustCall{productID, stockDelta, purchaseCountDelta})

	if stockDelta > 0 {
		if err := f.failRevert[productID]; err != nil {
			return err
		}
		return nil
	}
	if left := f.transientFor[productID]; left > 0 {
		f.transientFor[productID] = left - 1
		return errors.New("ledger temporarily unavailable")
	}
	if err := f.failOn[productID]; err != nil {
		return err
	}
	return nil
}

func (f *fakeLedger) callsFor(productID string) []adjustCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []adjustCall
	for _, c := range f.calls {
		if c.productID == productID {
			out = append(out, c)
		}
	}
	return out
}

type fakeSink struct {
	mu       sync.Mutex
	appended []domain.SaleRecord
	failFor  int // fail this many appends before succeeding
}

func (f *fakeSink) AppendSaleRecord(_ context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return nil, errors.New("sale store unavailable")
	}
	f.appended = append(f.appended, record)
	saved := record
	return &saved, nil
}

func softDrink() domain.Product {
	return domain.Product{
		ID:                "prod-cola-1l",
		Name:              "Cola 1L",
		UnitPriceCentavos: 1000,
		BulkTiers: []domain.BulkTier{
			{QuantityPerTier: 12, TierTotalCentavos: 19200, Label: "case of 12"},
		},
		StockInUnits: 100,
		Active:       true,
	}
}

func snacks() domain.Product {
	return domain.Product{
		ID:                "prod-chips",
		Name:              "Chips",
		UnitPriceCentavos: 1600,
		BulkTiers: []domain.BulkTier{
			{QuantityPerTier: 12, TierTotalCentavos: 19200, Label: "dozen"},
		},
		StockInUnits: 100,
		Active:       true,
	}
}

func newTestCoordinator(ledger InventoryLedger, sink SaleRecordSink) *Coordinator {
	return NewCoordinator(ledger, sink, WithRetry(3, time.Millisecond))
}

func TestCommitEmptyCart(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	result, err := c.Commit(context.Background(), cart.New())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if result.State != StateIdle {
		t.Fatalf("expected idle state for empty cart, got %s", result.State)
	}
	if len(sink.appended) != 0 || len(ledger.calls) != 0 {
		t.Fatalf("empty cart must not touch the sink or the ledger")
	}
}

func TestCommitRecordsSaleThenAdjustsInventory(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	cola := softDrink()
	chips := snacks()
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add cola: %v", err)
	}
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add cola again: %v", err)
	}
	if err := active.Add(chips, domain.ModePerBundle); err != nil {
		t.Fatalf("add chips bundle: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if result.State != StateCommitted {
		t.Fatalf("expected committed state, got %s", result.State)
	}

	// 2 x 1000 for the cola plus a dozen chips at 19200 for the case.
	if result.Sale.TotalCentavos != 21200 {
		t.Fatalf("expected sale total 21200, got %d", result.Sale.TotalCentavos)
	}
	if result.Sale.Status != domain.SaleStatusPending {
		t.Fatalf("expected pending status, got %s", result.Sale.Status)
	}
	if len(result.Sale.Lines) != 2 {
		t.Fatalf("expected 2 sale lines, got %d", len(result.Sale.Lines))
	}
	if result.Sale.Lines[1].Name != "Chips (Bundle of 12)" {
		t.Fatalf("sale line must carry the display label, got %q", result.Sale.Lines[1].Name)
	}

	if len(sink.appended) != 1 {
		t.Fatalf("expected exactly one sale record appended, got %d", len(sink.appended))
	}

	colaCalls := ledger.callsFor(cola.ID)
	if len(colaCalls) != 1 || colaCalls[0].stockDelta != -2 || colaCalls[0].purchaseCountDelta != 2 {
		t.Fatalf("expected cola adjustment (-2, +2), got %+v", colaCalls)
	}
	chipsCalls := ledger.callsFor(chips.ID)
	if len(chipsCalls) != 1 || chipsCalls[0].stockDelta != -12 || chipsCalls[0].purchaseCountDelta != 12 {
		t.Fatalf("expected chips adjustment (-12, +12), got %+v", chipsCalls)
	}

	if active.Len() != 0 {
		t.Fatalf("cart must be cleared after a committed sale, got %d lines", active.Len())
	}
}

func TestCommitAggregatesModesPerProductInLedger(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	cola := softDrink()
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add per-unit: %v", err)
	}
	if err := active.Add(cola, domain.ModePerBundle); err != nil {
		t.Fatalf("add per-bundle: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Two record lines, one ledger adjustment for the shared product.
	if len(result.Sale.Lines) != 2 {
		t.Fatalf("expected 2 distinct sale lines, got %d", len(result.Sale.Lines))
	}
	calls := ledger.callsFor(cola.ID)
	if len(calls) != 1 || calls[0].stockDelta != -13 || calls[0].purchaseCountDelta != 13 {
		t.Fatalf("expected one aggregated adjustment (-13, +13), got %+v", calls)
	}
}

func TestCommitSinkFailureLeavesLedgerUntouched(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{failFor: 10}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	if err := active.Add(softDrink(), domain.ModePerUnit); err != nil {
		t.Fatalf("add: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	if err == nil {
		t.Fatal("expected commit to fail when the sale record cannot be written")
	}
	if result.State != StateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("no inventory mutation may happen before the sale record is durable, got %+v", ledger.calls)
	}
	if active.Len() != 1 {
		t.Fatal("cart must stay intact after a failed commit")
	}
}

func TestCommitRetriesTransientLedgerFaults(t *testing.T) {
	cola := softDrink()
	ledger := &fakeLedger{transientFor: map[string]int{cola.ID: 2}}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	if err != nil {
		t.Fatalf("expected transient faults to be retried to success, got %v", err)
	}
	if result.State != StateCommitted {
		t.Fatalf("expected committed state, got %s", result.State)
	}
	if calls := ledger.callsFor(cola.ID); len(calls) != 3 {
		t.Fatalf("expected 2 failed attempts plus 1 success, got %d calls", len(calls))
	}
}

func TestCommitCompensatesAppliedAdjustmentsOnFailure(t *testing.T) {
	cola := softDrink()
	chips := snacks()
	ledger := &fakeLedger{failOn: map[string]error{chips.ID: store.ErrInsufficientStock}}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add cola: %v", err)
	}
	if err := active.Add(chips, domain.ModePerUnit); err != nil {
		t.Fatalf("add chips: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock to surface, got %v", err)
	}
	var ledgerErr *LedgerError
	if !errors.As(err, &ledgerErr) || ledgerErr.ProductID != chips.ID {
		t.Fatalf("expected LedgerError naming %s, got %v", chips.ID, err)
	}
	if result.State != StateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}

	// Cola was decremented first; the failure on chips must revert it.
	colaCalls := ledger.callsFor(cola.ID)
	if len(colaCalls) != 2 {
		t.Fatalf("expected decrement then revert for cola, got %+v", colaCalls)
	}
	if colaCalls[0].stockDelta != -1 || colaCalls[1].stockDelta != 1 {
		t.Fatalf("expected -1 then +1 for cola, got %+v", colaCalls)
	}
	if colaCalls[1].purchaseCountDelta != -1 {
		t.Fatalf("revert must undo the purchase count too, got %+v", colaCalls[1])
	}

	// The record stays for reconciliation; the cart stays for retry.
	if len(sink.appended) != 1 {
		t.Fatalf("sale record must be kept after a reverted commit, got %d", len(sink.appended))
	}
	if active.Len() != 2 {
		t.Fatal("cart must stay intact after a failed commit")
	}
}

func TestCommitReportsPartialCommitWhenCompensationFails(t *testing.T) {
	cola := softDrink()
	chips := snacks()
	ledger := &fakeLedger{
		failOn:     map[string]error{chips.ID: store.ErrInsufficientStock},
		failRevert: map[string]error{cola.ID: errors.New("ledger down")},
	}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	if err := active.Add(cola, domain.ModePerUnit); err != nil {
		t.Fatalf("add cola: %v", err)
	}
	if err := active.Add(chips, domain.ModePerUnit); err != nil {
		t.Fatalf("add chips: %v", err)
	}

	result, err := c.Commit(context.Background(), active)
	var partial *PartialCommitError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCommitError, got %v", err)
	}
	if result.Sale == nil || partial.SaleID != result.Sale.ID {
		t.Fatalf("partial commit must name the recorded sale, got %+v", partial)
	}
	if len(partial.Unreverted) != 1 || partial.Unreverted[0] != cola.ID {
		t.Fatalf("expected cola left unreverted, got %v", partial.Unreverted)
	}
}

func TestCommitIgnoresCallerCancellationOnceStarted(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	c := newTestCoordinator(ledger, sink)

	active := cart.New()
	if err := active.Add(softDrink(), domain.ModePerUnit); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Commit(ctx, active)
	if err != nil {
		t.Fatalf("commit must run to completion despite cancellation, got %v", err)
	}
	if result.State != StateCommitted {
		t.Fatalf("expected committed state, got %s", result.State)
	}
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()

	const productID = "prod-water-600"
	product, err := repo.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("seed product missing: %v", err)
	}
	// Draw the seeded stock down so only 5 units remain shared by two carts.
	if err := repo.AdjustInventory(ctx, productID, 5-product.StockInUnits, 0); err != nil {
		t.Fatalf("draw down stock: %v", err)
	}

	c := newTestCoordinator(repo, repo)

	buildCart := func() *cart.Cart {
		active := cart.New()
		for i := 0; i < 3; i++ {
			if err := active.Add(*product, domain.ModePerUnit); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		return active
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Commit(ctx, buildCart())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one commit to win, got %d committed / %d rejected", succeeded, rejected)
	}

	after, err := repo.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if after.StockInUnits != 2 {
		t.Fatalf("expected 5 - 3 = 2 units left, got %d", after.StockInUnits)
	}
}
