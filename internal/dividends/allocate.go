package dividends

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/ledger"
	"github.com/coop-ledger/coopledger/internal/shared"
)

// PercentageScale is the number of decimal places kept for informational percentages.
const PercentageScale = 4

var hundred = decimal.NewFromInt(100)

// Share is one member's slice of a dividend pool.
type Share struct {
	MemberID     int64           `json:"member_id"`
	Contribution decimal.Decimal `json:"contribution"`
	Percentage   decimal.Decimal `json:"percentage"`
	Amount       decimal.Decimal `json:"amount"`
}

// Allocate splits pool across members in proportion to their contributions. Each exact
// share is floored to the minor unit and the leftover units go one at a time to the
// largest fractional remainders, ties broken by member id ascending, so the shares always
// sum to pool. Members with a non-positive contribution are excluded.
func Allocate(pool decimal.Decimal, contributions []ledger.MemberTotal) ([]Share, error) {
	if err := shared.ValidatePositiveAmount("dividend pool", pool); err != nil {
		return nil, err
	}
	members := make([]ledger.MemberTotal, 0, len(contributions))
	seen := make(map[int64]bool, len(contributions))
	for _, c := range contributions {
		if !c.Total.IsPositive() {
			continue
		}
		if seen[c.MemberID] {
			return nil, shared.Validation("member %d listed twice", c.MemberID)
		}
		seen[c.MemberID] = true
		members = append(members, c)
	}
	if len(members) == 0 {
		return nil, shared.Validation("no confirmed contributions in period")
	}
	sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })

	scale := int32(0)
	for _, m := range members {
		if e := -m.Total.Exponent(); e > scale {
			scale = e
		}
	}
	total := decimal.Zero
	weights := make([]*big.Int, len(members))
	for i, m := range members {
		total = total.Add(m.Total)
		weights[i] = m.Total.Shift(scale).BigInt()
	}
	denominator := total.Shift(scale).BigInt()
	poolMinor := pool.Shift(shared.MinorUnitScale).BigInt()

	type part struct {
		index     int
		remainder *big.Int
	}
	shares := make([]Share, len(members))
	parts := make([]part, len(members))
	allotted := new(big.Int)
	for i, m := range members {
		numerator := new(big.Int).Mul(poolMinor, weights[i])
		floor, rem := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
		allotted.Add(allotted, floor)
		parts[i] = part{index: i, remainder: rem}
		shares[i] = Share{
			MemberID:     m.MemberID,
			Contribution: m.Total,
			Percentage:   m.Total.Mul(hundred).DivRound(total, PercentageScale),
			Amount:       decimal.NewFromBigInt(floor, -shared.MinorUnitScale),
		}
	}

	leftover := new(big.Int).Sub(poolMinor, allotted).Int64()
	sort.SliceStable(parts, func(i, j int) bool {
		if c := parts[i].remainder.Cmp(parts[j].remainder); c != 0 {
			return c > 0
		}
		return shares[parts[i].index].MemberID < shares[parts[j].index].MemberID
	})
	unit := decimal.New(1, -shared.MinorUnitScale)
	for k := int64(0); k < leftover; k++ {
		idx := parts[k].index
		shares[idx].Amount = shares[idx].Amount.Add(unit)
	}
	return shares, nil
}

// SumAmounts totals the allotted amounts.
func SumAmounts(shares []Share) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}
