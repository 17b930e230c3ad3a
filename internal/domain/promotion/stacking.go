package promotion

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Candidate pairs a promotion with its individually computed discount.
// Callers pass only candidates whose eligibility verdict passed.
type Candidate struct {
	Promotion *Promotion
	Discount  decimal.Decimal
}

// StackResult describes which discounts apply together and their combined
// effect on the order.
type StackResult struct {
	Applied        []*Promotion
	LoyaltyApplied bool
	TotalDiscount  decimal.Decimal
	FinalAmount    decimal.Decimal
	FreeDelivery   bool
}

// ResolveStack decides which subset of candidate promotions (plus an
// optional loyalty-points redemption) applies to one order.
//
// An exclusive (non-stackable) candidate wins alone: the one with the
// lowest priority rank, ties broken by the larger discount. Stackable
// candidates accumulate in priority order, but a candidate that disallows
// stacking with other promotions is applied in isolation when it comes
// first and skipped otherwise. The loyalty discount joins only when every
// applied promotion permits it. The cumulative discount is capped at the
// lowest max-stacking percentage among the applied set, taken of the
// original order total, and never exceeds the order total.
func ResolveStack(candidates []Candidate, loyaltyDiscount decimal.Decimal, order OrderSnapshot) StackResult {
	exclusive, stackable := partition(candidates)

	var applied []Candidate
	switch {
	case len(exclusive) > 0:
		applied = []Candidate{pickExclusive(exclusive)}
	default:
		applied = stackInPriorityOrder(stackable)
	}

	total := decimal.Zero
	freeDelivery := false
	result := StackResult{}
	for _, c := range applied {
		result.Applied = append(result.Applied, c.Promotion)
		total = total.Add(c.Discount)
		if c.Promotion.DiscountType == DiscountFreeDelivery {
			freeDelivery = true
		}
	}

	if loyaltyDiscount.IsPositive() && loyaltyAllowed(applied) {
		result.LoyaltyApplied = true
		total = total.Add(loyaltyDiscount)
	}

	if pct, ok := strictestCap(applied); ok {
		total = decimal.Min(total, order.TotalAmount.Mul(pct).Div(hundred))
	}
	total = decimal.Min(total, order.TotalAmount)

	result.TotalDiscount = total
	result.FinalAmount = order.TotalAmount.Sub(total)
	result.FreeDelivery = freeDelivery
	return result
}

func partition(candidates []Candidate) (exclusive, stackable []Candidate) {
	for _, c := range candidates {
		if c.Promotion.Stackable {
			stackable = append(stackable, c)
		} else {
			exclusive = append(exclusive, c)
		}
	}
	return exclusive, stackable
}

// pickExclusive selects the winning exclusive promotion: lowest priority
// rank first, larger discount on ties.
func pickExclusive(exclusive []Candidate) Candidate {
	best := exclusive[0]
	for _, c := range exclusive[1:] {
		if stackLess(c, best) {
			best = c
		}
	}
	return best
}

// stackInPriorityOrder accumulates stackable candidates. A candidate that
// cannot stack with other promotions either applies alone (when it ranks
// first) or is skipped.
func stackInPriorityOrder(stackable []Candidate) []Candidate {
	if len(stackable) == 0 {
		return nil
	}

	ordered := make([]Candidate, len(stackable))
	copy(ordered, stackable)
	sort.SliceStable(ordered, func(i, j int) bool {
		return stackLess(ordered[i], ordered[j])
	})

	if !ordered[0].Promotion.Stacking.CanStackWithPromotions {
		return ordered[:1]
	}

	applied := ordered[:1]
	for _, c := range ordered[1:] {
		if !c.Promotion.Stacking.CanStackWithPromotions {
			continue
		}
		applied = append(applied, c)
	}
	return applied
}

// stackLess is the total order used for stacking decisions: priority rank
// ascending, then discount descending, then ID ascending for determinism.
func stackLess(a, b Candidate) bool {
	pa, pb := a.Promotion.Stacking.Priority, b.Promotion.Stacking.Priority
	if pa != pb {
		return pa < pb
	}
	if !a.Discount.Equal(b.Discount) {
		return a.Discount.GreaterThan(b.Discount)
	}
	return a.Promotion.ID < b.Promotion.ID
}

func loyaltyAllowed(applied []Candidate) bool {
	for _, c := range applied {
		if !c.Promotion.Stacking.CanStackWithLoyalty {
			return false
		}
	}
	return true
}

// strictestCap returns the lowest positive max-stacking percentage among
// the applied promotions. The most conservative cap wins so a strict
// promotion's ceiling cannot be circumvented by combining it with a looser
// one.
func strictestCap(applied []Candidate) (decimal.Decimal, bool) {
	var (
		lowest decimal.Decimal
		found  bool
	)
	for _, c := range applied {
		pct := c.Promotion.Stacking.MaxStackingPercent
		if !pct.IsPositive() {
			continue
		}
		if !found || pct.LessThan(lowest) {
			lowest = pct
			found = true
		}
	}
	return lowest, found
}
