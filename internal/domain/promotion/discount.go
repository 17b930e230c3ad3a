package promotion

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountResult holds the computed discount for a single promotion.
// Amounts keep full decimal precision; rounding to two places happens once
// at result assembly so stacked discounts do not compound rounding error.
type DiscountResult struct {
	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
	// FreeDelivery signals the caller to zero the delivery charge; the
	// pipeline does not know the fee amount.
	FreeDelivery bool
}

// ComputeDiscount translates a promotion and an order snapshot into a
// concrete currency discount. It returns ErrMisconfigured for records that
// cannot be evaluated instead of panicking past the pipeline boundary.
func ComputeDiscount(p *Promotion, order OrderSnapshot) (DiscountResult, error) {
	if p.DiscountValue.IsNegative() {
		return DiscountResult{}, errors.Wrap(ErrMisconfigured, "negative discount value")
	}

	var (
		discount     decimal.Decimal
		freeDelivery bool
	)

	switch p.DiscountType {
	case DiscountPercentage:
		if p.DiscountValue.GreaterThan(hundred) {
			return DiscountResult{}, errors.Wrap(ErrMisconfigured, "percentage above 100")
		}
		discount = order.TotalAmount.Mul(p.DiscountValue).Div(hundred)
		if p.MaximumDiscount.IsPositive() {
			discount = decimal.Min(discount, p.MaximumDiscount)
		}

	case DiscountFixed:
		discount = decimal.Min(p.DiscountValue, order.TotalAmount)

	case DiscountFreeDelivery:
		freeDelivery = true

	case DiscountBuyXGetY:
		if p.BuyXGetY == nil || p.BuyXGetY.GetQuantity <= 0 {
			return DiscountResult{}, errors.Wrap(ErrMisconfigured, "missing buy-x-get-y rule")
		}
		discount = buyXGetYDiscount(p.BuyXGetY, order.Items)

	default:
		return DiscountResult{}, errors.Wrapf(ErrMisconfigured, "unsupported discount type %q", p.DiscountType)
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = decimal.Min(discount, order.TotalAmount)

	return DiscountResult{
		Discount:     discount,
		FinalAmount:  order.TotalAmount.Sub(discount),
		FreeDelivery: freeDelivery,
	}, nil
}

// buyXGetYDiscount gives the cheapest qualifying units free once the buy
// quantity is covered, bounded by the number of matching units actually in
// the order.
func buyXGetYDiscount(rule *BuyXGetYRule, items []LineItem) decimal.Decimal {
	var unitPrices []decimal.Decimal
	for _, item := range items {
		if !matchesRule(rule, item) {
			continue
		}
		for i := 0; i < item.Quantity; i++ {
			unitPrices = append(unitPrices, item.Price)
		}
	}

	free := len(unitPrices) - rule.BuyQuantity
	if free <= 0 {
		return decimal.Zero
	}
	if free > rule.GetQuantity {
		free = rule.GetQuantity
	}

	sort.Slice(unitPrices, func(i, j int) bool {
		return unitPrices[i].LessThan(unitPrices[j])
	})

	total := decimal.Zero
	for _, price := range unitPrices[:free] {
		total = total.Add(price)
	}
	return total
}

// matchesRule reports whether the line item qualifies for the rule. Empty
// product and category lists match every item.
func matchesRule(rule *BuyXGetYRule, item LineItem) bool {
	if len(rule.ProductIDs) == 0 && len(rule.Categories) == 0 {
		return true
	}
	for _, id := range rule.ProductIDs {
		if id == item.ProductID {
			return true
		}
	}
	for _, cat := range rule.Categories {
		if cat == item.Category {
			return true
		}
	}
	return false
}
