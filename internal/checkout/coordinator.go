package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bentapos/backend/internal/cart"
	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/store"
	"bentapos/backend/internal/xid"
)

var ErrEmptyCart = errors.New("empty cart")

// LedgerError marks a final per-product ledger failure so callers can tell
// the user exactly which product blocked the checkout.
type LedgerError struct {
	ProductID string
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger adjustment for product %s: %v", e.ProductID, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// PartialCommitError is the loud failure mode: a commit failed and reversing
// the adjustments already applied also failed, leaving the ledger out of step
// with the recorded sale. It always requires manual reconciliation.
type PartialCommitError struct {
	SaleID     string
	Unreverted []string
	Err        error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: sale %s recorded but adjustments for products %v were not reverted: %v", e.SaleID, e.Unreverted, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// InventoryLedger applies a stock and purchase-count delta for one product as
// a single atomic conditional step. A decrement below zero must return
// store.ErrInsufficientStock, an unknown product store.ErrNotFound; both are
// final. Any other error is treated as transient.
type InventoryLedger interface {
	AdjustInventory(ctx context.Context, productID string, stockDelta int, purchaseCountDelta int) error
}

// SaleRecordSink appends an immutable sale record.
type SaleRecordSink interface {
	AppendSaleRecord(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error)
}

// State of one commit attempt.
type State string

const (
	StateIdle       State = "idle"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

const defaultMaxAttempts = 3

// Coordinator drives the atomic transition of a cart into a recorded sale
// plus inventory decrements. The sale record is made durable before any
// inventory mutation, so a mid-commit fault can overstate history but never
// lose a sale; a fault after partial inventory mutation is compensated by
// reversing the deltas already applied.
type Coordinator struct {
	ledger      InventoryLedger
	sink        SaleRecordSink
	maxAttempts int
	retryDelay  time.Duration
}

type Option func(*Coordinator)

// WithRetry overrides the transient-failure retry policy. Tests use a
// single-digit-millisecond delay.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Coordinator) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		c.retryDelay = delay
	}
}

func NewCoordinator(ledger InventoryLedger, sink SaleRecordSink, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:      ledger,
		sink:        sink,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result reports the terminal state of a commit attempt.
type Result struct {
	State State
	Sale  *domain.SaleRecord
}

// Commit snapshots the cart and runs the commit to a terminal state. The
// caller may abandon a checkout only before Commit is invoked; once the sale
// record write starts the commit detaches from caller cancellation so it
// cannot stop halfway with ledger effects and no record of intent.
//
// On success the live cart is cleared. On failure the cart is left intact for
// retry and an already-written sale record stays in place for manual
// reconciliation; sale history is never deleted here.
func (c *Coordinator) Commit(ctx context.Context, activeCart *cart.Cart) (Result, error) {
	snapshot := activeCart.Snapshot()
	if len(snapshot) == 0 {
		return Result{State: StateIdle}, ErrEmptyCart
	}

	// Committing: from here on the commit must reach Committed or Failed.
	ctx = context.WithoutCancel(ctx)

	var total int64
	lines := make([]domain.SaleLine, 0, len(snapshot))
	for _, line := range snapshot {
		// The committed price is exactly what the customer was shown, never
		// re-derived from the catalog or tiers at commit time.
		total += line.LineTotalCentavos
		lines = append(lines, domain.SaleLine{
			ProductID:         line.ProductID,
			Name:              line.DisplayLabel,
			UnitPriceCentavos: line.UnitPriceCentavos,
			Quantity:          line.Quantity,
		})
	}

	record := domain.SaleRecord{
		ID:            xid.New("sale"),
		Lines:         lines,
		TotalCentavos: total,
		Status:        domain.SaleStatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	saved, err := c.appendWithRetry(ctx, record)
	if err != nil {
		return Result{State: StateFailed}, fmt.Errorf("append sale record: %w", err)
	}

	if err := c.adjustAll(ctx, saved.ID, snapshot); err != nil {
		return Result{State: StateFailed, Sale: saved}, err
	}

	activeCart.Clear()
	return Result{State: StateCommitted, Sale: saved}, nil
}

// adjustAll issues one conditional adjustment per distinct product. Lines for
// the same product under different modes stay distinct in the sale record but
// are summed here, since the ledger is keyed by product only.
func (c *Coordinator) adjustAll(ctx context.Context, saleID string, snapshot []domain.CartLine) error {
	productIDs, qtyByProduct := aggregateQuantities(snapshot)

	applied := make([]string, 0, len(productIDs))
	for _, productID := range productIDs {
		qty := qtyByProduct[productID]
		if err := c.adjustWithRetry(ctx, productID, -qty, qty); err != nil {
			ledgerErr := &LedgerError{ProductID: productID, Err: err}
			if compErr := c.compensate(ctx, qtyByProduct, applied); compErr != nil {
				unreverted := append([]string(nil), applied...)
				log.Printf("[checkout] ERROR: compensation failed for sale %s products %v: %v", saleID, unreverted, compErr)
				return &PartialCommitError{SaleID: saleID, Unreverted: unreverted, Err: compErr}
			}
			log.Printf("[checkout] WARN: sale %s failed on product %s, applied adjustments reverted; record kept for reconciliation", saleID, productID)
			return ledgerErr
		}
		applied = append(applied, productID)
	}
	return nil
}

// compensate reverses already-applied adjustments in order. The reversal is a
// stock increment so it cannot hit the insufficient-stock guard; any failure
// here is a backing-store fault.
func (c *Coordinator) compensate(ctx context.Context, qtyByProduct map[string]int, applied []string) error {
	for _, productID := range applied {
		qty := qtyByProduct[productID]
		if err := c.adjustWithRetry(ctx, productID, qty, -qty); err != nil {
			return fmt.Errorf("revert product %s: %w", productID, err)
		}
	}
	return nil
}

func (c *Coordinator) appendWithRetry(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		c.backoff(attempt)
		saved, err := c.sink.AppendSaleRecord(ctx, record)
		if err == nil {
			return saved, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// adjustWithRetry retries transient faults only. Insufficient stock and
// unknown product are conditional outcomes, final for this commit.
func (c *Coordinator) adjustWithRetry(ctx context.Context, productID string, stockDelta int, purchaseCountDelta int) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		c.backoff(attempt)
		err := c.ledger.AdjustInventory(ctx, productID, stockDelta, purchaseCountDelta)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrNotFound) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Coordinator) backoff(attempt int) {
	if attempt > 0 && c.retryDelay > 0 {
		time.Sleep(time.Duration(attempt) * c.retryDelay)
	}
}

// aggregateQuantities sums snapshot quantities per product, preserving the
// first-seen order so ledger calls are deterministic.
func aggregateQuantities(snapshot []domain.CartLine) ([]string, map[string]int) {
	order := make([]string, 0, len(snapshot))
	byProduct := make(map[string]int, len(snapshot))
	for _, line := range snapshot {
		if _, seen := byProduct[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		byProduct[line.ProductID] += line.Quantity
	}
	return order, byProduct
}
