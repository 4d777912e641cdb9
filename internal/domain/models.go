package domain

import (
	"fmt"
	"time"
)

// SalesMode selects how a product is priced when it enters a cart.
// The set is closed; anything else is rejected at the API boundary.
type SalesMode string

const (
	ModePerUnit      SalesMode = "per_unit"
	ModePerBundle    SalesMode = "per_bundle"
	ModeCustomBundle SalesMode = "custom_bundle"
)

func ParseSalesMode(raw string) (SalesMode, error) {
	switch SalesMode(raw) {
	case ModePerUnit, ModePerBundle, ModeCustomBundle:
		return SalesMode(raw), nil
	}
	return "", fmt.Errorf("unknown sales mode %q", raw)
}

// BulkTier is a pre-priced multi-unit pack. TierTotalCentavos covers
// QuantityPerTier units; the per-unit tier price is derived, never stored.
type BulkTier struct {
	QuantityPerTier   int    `json:"quantity_per_tier"`
	TierTotalCentavos int64  `json:"tier_total_centavos"`
	Label             string `json:"label"`
}

// UnitCentavos returns the derived per-unit price of the tier, or 0 when
// the tier data is unusable.
func (t BulkTier) UnitCentavos() int64 {
	if t.QuantityPerTier < 1 || t.TierTotalCentavos < 1 {
		return 0
	}
	return t.TierTotalCentavos / int64(t.QuantityPerTier)
}

// Product is the catalog snapshot supplied to the cart engine. StockInUnits
// and PurchaseCount are authoritative in the repository and are mutated only
// through its atomic inventory adjustment.
type Product struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Category          string     `json:"category"`
	Subcategory       string     `json:"subcategory"`
	UnitType          string     `json:"unit_type"`
	UnitPriceCentavos int64      `json:"unit_price_centavos"`
	BulkTiers         []BulkTier `json:"bulk_tiers,omitempty"`
	StockInUnits      int        `json:"stock_in_units"`
	PurchaseCount     int        `json:"purchase_count"`
	Active            bool       `json:"active"`
}

// CartLine is one priced entry in a cart. Identity is (ProductID, Mode):
// the same product added under a different mode is a separate line.
type CartLine struct {
	ProductID         string    `json:"product_id"`
	Mode              SalesMode `json:"mode"`
	Name              string    `json:"name"`
	DisplayLabel      string    `json:"display_label"`
	UnitPriceCentavos int64     `json:"unit_price_centavos"`
	Quantity          int       `json:"quantity"`
	LineTotalCentavos int64     `json:"line_total_centavos"`
}

type SaleLine struct {
	ProductID         string `json:"product_id"`
	Name              string `json:"name"`
	UnitPriceCentavos int64  `json:"unit_price_centavos"`
	Quantity          int    `json:"quantity"`
}

const SaleStatusPending = "pending"

// SaleRecord is immutable once appended. Status starts pending; post-commit
// workflows transition it elsewhere.
type SaleRecord struct {
	ID            string     `json:"id"`
	Lines         []SaleLine `json:"lines"`
	TotalCentavos int64      `json:"total_centavos"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CartLineRequest struct {
	SessionID string `json:"session_id"`
	ProductID string `json:"product_id"`
	Mode      string `json:"mode"`
}

type CartQuantityRequest struct {
	SessionID string `json:"session_id"`
	ProductID string `json:"product_id"`
	Mode      string `json:"mode"`
	Direction string `json:"direction"`
}

type CartView struct {
	SessionID          string     `json:"session_id"`
	Lines              []CartLine `json:"lines"`
	GrandTotalCentavos int64      `json:"grand_total_centavos"`
}

type CheckoutRequest struct {
	SessionID string `json:"session_id"`
}

type CheckoutResponse struct {
	SaleID        string `json:"sale_id"`
	Status        string `json:"status"`
	TotalCentavos int64  `json:"total_centavos"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type RestockRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type RestockResponse struct {
	ProductID    string `json:"product_id"`
	StockInUnits int    `json:"stock_in_units"`
}

type SaleListResponse struct {
	Sales []SaleRecord `json:"sales"`
}
