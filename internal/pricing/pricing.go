package pricing

import (
	"fmt"

	"bentapos/backend/internal/domain"
)

// Quote is the resolved price for one add-to-cart action: the per-unit price,
// how many units a single add contributes, and the label shown on the line.
type Quote struct {
	UnitPriceCentavos int64
	QuantityUnit      int
	Label             string
}

// Valid reports whether the quote can be sold. A zero or negative unit price
// means the product has no usable pricing for the requested mode (typically a
// bundle mode on a product with no bulk tier) and must be rejected by the
// caller, never treated as a free item.
func (q Quote) Valid() bool {
	return q.UnitPriceCentavos > 0 && q.QuantityUnit > 0
}

// Resolve maps (product, mode) to a Quote. It is total: every product/mode
// pair yields a quote, degenerate ones flagged via Valid.
//
// Bundle modes read bulk tier index 0 only. Products carrying more than one
// tier expose just the first to this pricing path; that mirrors how the
// catalog has always been sold and is intentional, not a lookup bug.
func Resolve(product domain.Product, mode domain.SalesMode) Quote {
	switch mode {
	case domain.ModePerBundle:
		tier, ok := firstTier(product)
		if !ok {
			return Quote{UnitPriceCentavos: 0, QuantityUnit: 1, Label: product.Name}
		}
		return Quote{
			UnitPriceCentavos: tier.UnitCentavos(),
			QuantityUnit:      tier.QuantityPerTier,
			Label:             fmt.Sprintf("%s (Bundle of %d)", product.Name, tier.QuantityPerTier),
		}
	case domain.ModeCustomBundle:
		tier, ok := firstTier(product)
		if !ok {
			return Quote{UnitPriceCentavos: 0, QuantityUnit: 1, Label: product.Name}
		}
		// Bundle pricing, but the purchaser picks the quantity one unit at a
		// time instead of committing to a full tier multiple.
		return Quote{
			UnitPriceCentavos: tier.UnitCentavos(),
			QuantityUnit:      1,
			Label:             fmt.Sprintf("%s (Custom Bundle)", product.Name),
		}
	default:
		return Quote{
			UnitPriceCentavos: product.UnitPriceCentavos,
			QuantityUnit:      1,
			Label:             product.Name,
		}
	}
}

func firstTier(product domain.Product) (domain.BulkTier, bool) {
	if len(product.BulkTiers) == 0 {
		return domain.BulkTier{}, false
	}
	tier := product.BulkTiers[0]
	if tier.QuantityPerTier < 1 || tier.TierTotalCentavos < 1 {
		return domain.BulkTier{}, false
	}
	return tier, true
}
