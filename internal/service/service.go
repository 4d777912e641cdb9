package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"bentapos/backend/internal/cache"
	"bentapos/backend/internal/cart"
	"bentapos/backend/internal/checkout"
	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
)

const catalogCacheKey = "catalog:v1"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// session is one terminal's active cart. Every cart operation for the session
// runs under its mutex, so the cart itself stays lock-free and a checkout
// cannot interleave with a concurrent line edit on the same session.
type session struct {
	mu   sync.Mutex
	cart *cart.Cart
}

type Service struct {
	repo        store.Repository
	coordinator *checkout.Coordinator
	catalog     cache.CatalogCache
	catalogTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func New(repo store.Repository, coordinator *checkout.Coordinator, catalog cache.CatalogCache, catalogTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 30 * time.Second
	}
	return &Service{
		repo:        repo,
		coordinator: coordinator,
		catalog:     catalog,
		catalogTTL:  catalogTTL,
		sessions:    make(map[string]*session),
	}
}

// ListCatalog serves the selling screen. The repository orders by category
// then purchase count so best sellers surface first; the cache only shortens
// the path and never changes the answer. Category and subcategory filters are
// optional and applied after the cached read, so one cache entry serves every
// filter combination.
func (s *Service) ListCatalog(ctx context.Context, category string, subcategory string) ([]domain.Product, error) {
	products, hit, err := s.catalog.Get(ctx, catalogCacheKey)
	if err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	}
	if !hit {
		products, err = s.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.catalog.Set(ctx, catalogCacheKey, products, s.catalogTTL); err != nil {
			log.Printf("[service] WARN: catalog cache write failed: %v", err)
		}
	}

	return filterCatalog(products, category, subcategory), nil
}

func filterCatalog(products []domain.Product, category string, subcategory string) []domain.Product {
	category = strings.TrimSpace(category)
	subcategory = strings.TrimSpace(subcategory)
	if category == "" && subcategory == "" {
		return products
	}

	filtered := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if subcategory != "" && !strings.EqualFold(p.Subcategory, subcategory) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

func (s *Service) AddToCart(ctx context.Context, req domain.CartLineRequest) (domain.CartView, error) {
	sessionID, err := normalizeSessionID(req.SessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	mode, err := domain.ParseSalesMode(req.Mode)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return domain.CartView{}, fmt.Errorf("%w: product_id is required", ErrInvalidInput)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !product.Active {
		return domain.CartView{}, store.ErrNotFound
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.cart.Add(*product, mode); err != nil {
		return domain.CartView{}, err
	}
	return cartView(sessionID, sess.cart), nil
}

func (s *Service) ChangeQuantity(ctx context.Context, req domain.CartQuantityRequest) (domain.CartView, error) {
	sessionID, err := normalizeSessionID(req.SessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	mode, err := domain.ParseSalesMode(req.Mode)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	direction, err := cart.ParseDirection(req.Direction)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.cart.ChangeQuantity(req.ProductID, mode, direction); err != nil {
		return domain.CartView{}, err
	}
	return cartView(sessionID, sess.cart), nil
}

func (s *Service) RemoveLine(ctx context.Context, req domain.CartLineRequest) (domain.CartView, error) {
	sessionID, err := normalizeSessionID(req.SessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	mode, err := domain.ParseSalesMode(req.Mode)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.cart.Remove(req.ProductID, mode)
	return cartView(sessionID, sess.cart), nil
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return cartView(sessionID, sess.cart), nil
}

// AbandonCart drops the session and its lines. Nothing is recorded: a cart
// that never reached checkout has no ledger or sale-history footprint.
func (s *Service) AbandonCart(ctx context.Context, sessionID string) error {
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	sessionID, err := normalizeSessionID(req.SessionID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	sess := s.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	result, err := s.coordinator.Commit(ctx, sess.cart)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidate failed: %v", err)
	}

	itemCount := 0
	for _, line := range result.Sale.Lines {
		itemCount += line.Quantity
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return domain.CheckoutResponse{
		SaleID:        result.Sale.ID,
		Status:        result.Sale.Status,
		TotalCentavos: result.Sale.TotalCentavos,
		ItemCount:     itemCount,
		CreatedAt:     result.Sale.CreatedAt.Format(time.RFC3339),
	}, nil
}

// ListSales returns sale records for one day (YYYY-MM-DD, UTC), newest first.
// An empty date means no window.
func (s *Service) ListSales(ctx context.Context, date string, limit int) (domain.SaleListResponse, error) {
	var from, to time.Time
	if strings.TrimSpace(date) != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.SaleListResponse{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
		}
		from = day.UTC()
		to = from.Add(24 * time.Hour)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	sales, err := s.repo.ListSaleRecords(ctx, from, to, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.SaleRecord{}, fmt.Errorf("%w: sale id is required", ErrInvalidInput)
	}
	record, err := s.repo.GetSaleRecordByID(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return *record, nil
}

// Restock is an admin-only positive inventory adjustment through the same
// ledger primitive checkout uses, so there is no second write path to stock.
func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (domain.RestockResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RestockResponse{}, ErrForbidden
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return domain.RestockResponse{}, fmt.Errorf("%w: product_id is required", ErrInvalidInput)
	}
	if req.Qty < 1 {
		return domain.RestockResponse{}, fmt.Errorf("%w: qty must be positive", ErrInvalidInput)
	}

	if err := s.repo.AdjustInventory(ctx, req.ProductID, req.Qty, 0); err != nil {
		return domain.RestockResponse{}, err
	}
	log.Printf("[service] restock product=%s qty=%d by=%s", req.ProductID, req.Qty, actor.Username)

	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidate failed: %v", err)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.RestockResponse{}, err
	}
	return domain.RestockResponse{ProductID: product.ID, StockInUnits: product.StockInUnits}, nil
}

func (s *Service) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[id]
	if !exists {
		sess = &session{cart: cart.New()}
		s.sessions[id] = sess
	}
	return sess
}

func normalizeSessionID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if len(id) > 128 {
		return "", fmt.Errorf("%w: session_id too long", ErrInvalidInput)
	}
	return id, nil
}

func cartView(sessionID string, c *cart.Cart) domain.CartView {
	return domain.CartView{
		SessionID:          sessionID,
		Lines:              c.Lines(),
		GrandTotalCentavos: c.GrandTotal(),
	}
}
