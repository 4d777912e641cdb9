package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/store"
	"bentapos/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	salesByID map[string]domain.SaleRecord
	saleOrder []string
	users     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to dev defaults with a warning. Production deployments
// use PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{
			ID: "prod-coke-1l", Name: "Coke 1L", Category: "Beverages", Subcategory: "Soft drinks",
			UnitType: "Bottle", UnitPriceCentavos: 7500, StockInUnits: 120, Active: true,
			BulkTiers: []domain.BulkTier{{QuantityPerTier: 12, TierTotalCentavos: 81600, Label: "case of 12"}},
		},
		{
			ID: "prod-coke-8oz", Name: "Coke Sakto 8oz", Category: "Beverages", Subcategory: "Soft drinks",
			UnitType: "Bottle", UnitPriceCentavos: 1500, StockInUnits: 240, Active: true,
			BulkTiers: []domain.BulkTier{{QuantityPerTier: 24, TierTotalCentavos: 31200, Label: "case of 24"}},
		},
		{
			ID: "prod-sprite-1l", Name: "Sprite 1L", Category: "Beverages", Subcategory: "Soft drinks",
			UnitType: "Bottle", UnitPriceCentavos: 7500, StockInUnits: 96, Active: true,
			BulkTiers: []domain.BulkTier{{QuantityPerTier: 12, TierTotalCentavos: 80400, Label: "case of 12"}},
		},
		{
			ID: "prod-royal-8oz", Name: "Royal 8oz", Category: "Beverages", Subcategory: "Soft drinks",
			UnitType: "Bottle", UnitPriceCentavos: 1500, StockInUnits: 192, Active: true,
			BulkTiers: []domain.BulkTier{{QuantityPerTier: 24, TierTotalCentavos: 32400, Label: "case of 24"}},
		},
		{
			ID: "prod-mtndew-1l", Name: "Mountain Dew 1L", Category: "Beverages", Subcategory: "Soft drinks",
			UnitType: "Bottle", UnitPriceCentavos: 7000, StockInUnits: 84, Active: true,
			BulkTiers: []domain.BulkTier{{QuantityPerTier: 12, TierTotalCentavos: 76800, Label: "case of 12"}},
		},
		{
			ID: "prod-water-600", Name: "Mineral Water 600ml", Category: "Beverages", Subcategory: "Water",
			UnitType: "Bottle", UnitPriceCentavos: 1800, StockInUnits: 300, Active: true,
		},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products:  productMap,
		salesByID: make(map[string]domain.SaleRecord),
		saleOrder: make([]string, 0, 64),
		users:     seedUsers(),
	}
}

// ListProducts returns active products ordered by category ascending then
// purchase count descending, the order the selling screens have always used.
func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category != b.Category {
			return strings.Compare(a.Category, b.Category)
		}
		if a.PurchaseCount != b.PurchaseCount {
			return b.PurchaseCount - a.PurchaseCount
		}
		return strings.Compare(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(product)
	return &copied, nil
}

// AdjustInventory applies both deltas under one lock so the stock guard and
// the write are a single step; concurrent checkouts against the same product
// serialize here instead of racing a read-then-write.
func (s *Store) AdjustInventory(_ context.Context, productID string, stockDelta int, purchaseCountDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}

	newStock := product.StockInUnits + stockDelta
	if newStock < 0 {
		return fmt.Errorf("%w: product %s has %d units, requested %d", store.ErrInsufficientStock, productID, product.StockInUnits, -stockDelta)
	}

	product.StockInUnits = newStock
	product.PurchaseCount += purchaseCountDelta
	if product.PurchaseCount < 0 {
		product.PurchaseCount = 0
	}
	s.products[productID] = product
	return nil
}

func (s *Store) AppendSaleRecord(_ context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	if len(record.Lines) == 0 || record.TotalCentavos < 0 {
		return nil, store.ErrInvalidRecord
	}
	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	if record.Status == "" {
		record.Status = domain.SaleStatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[record.ID]; exists {
		return nil, store.ErrInvalidRecord
	}
	s.salesByID[record.ID] = cloneSaleRecord(record)
	s.saleOrder = append(s.saleOrder, record.ID)
	saved := cloneSaleRecord(record)
	return &saved, nil
}

func (s *Store) GetSaleRecordByID(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSaleRecord(record)
	return &copied, nil
}

func (s *Store) ListSaleRecords(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	result := make([]domain.SaleRecord, 0, limit)
	// Newest first: walk the append order backwards.
	for i := len(s.saleOrder) - 1; i >= 0 && len(result) < limit; i-- {
		record := s.salesByID[s.saleOrder[i]]
		if !from.IsZero() && record.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !record.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneSaleRecord(record))
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	copied := p
	if len(p.BulkTiers) > 0 {
		copied.BulkTiers = append([]domain.BulkTier(nil), p.BulkTiers...)
	}
	return copied
}

func cloneSaleRecord(r domain.SaleRecord) domain.SaleRecord {
	copied := r
	if len(r.Lines) > 0 {
		copied.Lines = append([]domain.SaleLine(nil), r.Lines...)
	}
	return copied
}
