package store

import (
	"context"
	"errors"
	"time"

	"bentapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
)

// Repository is the persistence boundary for the cart engine. AdjustInventory
// is the atomic ledger primitive: implementations must apply the stock and
// purchase-count deltas as one conditional step and reject (never clamp) any
// adjustment that would take stock below zero. A client-side read-then-write
// of stock is a lost-update race under concurrent checkouts and is not an
// acceptable implementation.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	AdjustInventory(ctx context.Context, productID string, stockDelta int, purchaseCountDelta int) error
	AppendSaleRecord(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error)
	GetSaleRecordByID(ctx context.Context, id string) (*domain.SaleRecord, error)
	ListSaleRecords(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
