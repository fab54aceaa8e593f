package session

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/fix"
)

var (
	sides      = []fix.Side{fix.SideBuy, fix.SideSell, fix.SideSellShort}
	orderTypes = []fix.OrdType{fix.OrdTypeLimit, fix.OrdTypeMarket}
)

// OrderGenerator creates random common-stock orders for the demo session.
type OrderGenerator struct {
	symbols []string
	rng     *rand.Rand
}

func NewOrderGenerator(symbols []string, rng *rand.Rand) *OrderGenerator {
	return &OrderGenerator{symbols: symbols, rng: rng}
}

// Next returns an unsent order: quantity 1..10, and for limit orders a
// price in [0, 100) rounded to cents. Market orders carry a zero price.
func (g *OrderGenerator) Next() *ledger.Order {
	o := &ledger.Order{
		Symbol:   g.symbols[g.rng.IntN(len(g.symbols))],
		Side:     sides[g.rng.IntN(len(sides))],
		Type:     orderTypes[g.rng.IntN(len(orderTypes))],
		Qty:      decimal.NewFromInt(int64(g.rng.IntN(10) + 1)),
		Security: fix.SecurityTypeCommonStock,
		Price:    decimal.Zero,
	}
	o.OrigQty = o.Qty
	if o.Type == fix.OrdTypeLimit {
		o.Price = decimal.NewFromFloat(g.rng.Float64() * 100).Round(2)
	}
	return o
}
