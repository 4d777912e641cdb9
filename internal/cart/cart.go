package cart

import (
	"errors"
	"fmt"

	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/pricing"
)

var (
	ErrInvalidPricing = errors.New("invalid pricing for sales mode")
	ErrLineNotFound   = errors.New("cart line not found")
)

// Direction is a single-unit quantity edit on an existing line.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case Increase, Decrease:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("unknown quantity direction %q", raw)
}

// Cart is the ordered line collection for one active ordering session. It is
// exclusively owned by that session and holds no locks; callers serialize
// access (the service session registry guarantees one owner per cart).
type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{lines: make([]domain.CartLine, 0, 8)}
}

// Add resolves pricing for (product, mode) and either merges into the
// existing line with the same identity or appends a new one. The unit price
// of a line is fixed at first insertion: later adds accumulate quantity at
// that price even if the catalog price changed mid-session. An invalid quote
// leaves the cart untouched and returns ErrInvalidPricing.
func (c *Cart) Add(product domain.Product, mode domain.SalesMode) error {
	quote := pricing.Resolve(product, mode)
	if !quote.Valid() {
		return fmt.Errorf("%w: product %s mode %s", ErrInvalidPricing, product.ID, mode)
	}

	if line := c.find(product.ID, mode); line != nil {
		line.Quantity += quote.QuantityUnit
		line.LineTotalCentavos += line.UnitPriceCentavos * int64(quote.QuantityUnit)
		return nil
	}

	c.lines = append(c.lines, domain.CartLine{
		ProductID:         product.ID,
		Mode:              mode,
		Name:              product.Name,
		DisplayLabel:      quote.Label,
		UnitPriceCentavos: quote.UnitPriceCentavos,
		Quantity:          quote.QuantityUnit,
		LineTotalCentavos: quote.UnitPriceCentavos * int64(quote.QuantityUnit),
	})
	return nil
}

// ChangeQuantity adjusts an existing line by one unit. Decrease floors the
// quantity at 1 and the line total at one unit's price; dropping a line is
// only ever the explicit Remove operation.
func (c *Cart) ChangeQuantity(productID string, mode domain.SalesMode, direction Direction) error {
	line := c.find(productID, mode)
	if line == nil {
		return fmt.Errorf("%w: product %s mode %s", ErrLineNotFound, productID, mode)
	}

	switch direction {
	case Increase:
		line.Quantity++
		line.LineTotalCentavos += line.UnitPriceCentavos
	case Decrease:
		if line.Quantity > 1 {
			line.Quantity--
		}
		line.LineTotalCentavos -= line.UnitPriceCentavos
		if line.LineTotalCentavos < line.UnitPriceCentavos {
			line.LineTotalCentavos = line.UnitPriceCentavos
		}
	default:
		return fmt.Errorf("unknown quantity direction %q", direction)
	}
	return nil
}

// Remove deletes the line with the given identity; absent lines are a no-op.
func (c *Cart) Remove(productID string, mode domain.SalesMode) {
	for i, line := range c.lines {
		if line.ProductID == productID && line.Mode == mode {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// GrandTotal sums all line totals. Line totals are maintained as
// unitPrice x quantity so this is stable across repeated calls; a negative
// total (which would indicate corrupted line state) counts as zero rather
// than poisoning the sum.
func (c *Cart) GrandTotal() int64 {
	var total int64
	for _, line := range c.lines {
		if line.LineTotalCentavos < 0 {
			continue
		}
		total += line.LineTotalCentavos
	}
	return total
}

// Snapshot returns a deep copy of the lines in insertion order. Commits work
// against a snapshot so mutations to the live cart cannot affect an in-flight
// checkout.
func (c *Cart) Snapshot() []domain.CartLine {
	snapshot := make([]domain.CartLine, len(c.lines))
	copy(snapshot, c.lines)
	return snapshot
}

func (c *Cart) Lines() []domain.CartLine {
	return c.Snapshot()
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

func (c *Cart) find(productID string, mode domain.SalesMode) *domain.CartLine {
	for i := range c.lines {
		if c.lines[i].ProductID == productID && c.lines[i].Mode == mode {
			return &c.lines[i]
		}
	}
	return nil
}
