package lending

import (
	"errors"
	"math/big"
	"strconv"
)

// InterestModel encapsulates the two-segment ("kink") borrow rate curve and
// the reserve factor applied when deriving the supply rate. All parameters
// are fixed-point rationals; rates are fractions of a reference unit per
// year.
type InterestModel struct {
	Base          *big.Rat
	Slope1        *big.Rat
	Slope2        *big.Rat
	Kink          *big.Rat
	ReserveFactor *big.Rat
}

var (
	errKinkRange    = errors.New("lending: kink must be strictly between 0 and 1")
	errReserveRange = errors.New("lending: reserve factor must be within [0,1]")

	ratOne = big.NewRat(1, 1)
)

// NewInterestModel constructs a model from decimal inputs, e.g. a 2% base
// rate is 0.02 and an 80% kink is 0.8. The kink must lie strictly inside
// (0,1). Parameters are converted through their decimal representation so
// 0.02 lands on exactly 1/50 rather than the nearest binary float.
func NewInterestModel(base, slope1, slope2, kink, reserveFactor float64) (*InterestModel, error) {
	model := &InterestModel{
		Base:          ratFromDecimal(base),
		Slope1:        ratFromDecimal(slope1),
		Slope2:        ratFromDecimal(slope2),
		Kink:          ratFromDecimal(kink),
		ReserveFactor: ratFromDecimal(reserveFactor),
	}
	return model, model.Validate()
}

// ratFromDecimal converts a float to the rational its shortest decimal form
// denotes. Non-finite values come back zero and are left to Validate.
func ratFromDecimal(f float64) *big.Rat {
	r := new(big.Rat)
	if _, ok := r.SetString(strconv.FormatFloat(f, 'f', -1, 64)); !ok {
		return new(big.Rat)
	}
	return r
}

// Validate rejects kink values outside (0,1) and reserve factors outside
// [0,1].
func (m *InterestModel) Validate() error {
	if m == nil || m.Kink == nil || m.Kink.Sign() <= 0 || m.Kink.Cmp(ratOne) >= 0 {
		return errKinkRange
	}
	if m.ReserveFactor == nil || m.ReserveFactor.Sign() < 0 || m.ReserveFactor.Cmp(ratOne) > 0 {
		return errReserveRange
	}
	return nil
}

// Clone returns a deep copy of the model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		Base:          cloneRat(m.Base),
		Slope1:        cloneRat(m.Slope1),
		Slope2:        cloneRat(m.Slope2),
		Kink:          cloneRat(m.Kink),
		ReserveFactor: cloneRat(m.ReserveFactor),
	}
}

// Utilization computes U = totalDebt / totalPoolValue clamped to [0,1].
// Total pool value is the liquid balance plus outstanding debt; when the pool
// is empty the utilization is defined as zero.
func Utilization(totalDebt, poolBalance *big.Int) *big.Rat {
	if totalDebt == nil || totalDebt.Sign() <= 0 {
		return new(big.Rat)
	}
	total := new(big.Int).Set(totalDebt)
	if poolBalance != nil && poolBalance.Sign() > 0 {
		total.Add(total, poolBalance)
	}
	u := new(big.Rat).SetFrac(totalDebt, total)
	if u.Cmp(ratOne) > 0 {
		return new(big.Rat).Set(ratOne)
	}
	return u
}

// BorrowRate evaluates the kink curve at the supplied utilization. Below the
// kink the rate climbs linearly to base+slope1; past it slope2 applies to the
// excess utilization.
func (m *InterestModel) BorrowRate(utilization *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := clampRat(utilization)
	rate := cloneRat(m.Base)
	if u.Cmp(m.Kink) <= 0 {
		// base + slope1 * (u / kink)
		scaled := new(big.Rat).Quo(u, m.Kink)
		return rate.Add(rate, scaled.Mul(scaled, m.Slope1))
	}
	// base + slope1 + slope2 * (u - kink)
	rate.Add(rate, m.Slope1)
	excess := new(big.Rat).Sub(u, m.Kink)
	return rate.Add(rate, excess.Mul(excess, m.Slope2))
}

// SupplyRate derives the rate paid to suppliers:
// utilization * borrowRate * (1 - reserveFactor).
func (m *InterestModel) SupplyRate(utilization, borrowRate *big.Rat) *big.Rat {
	if m == nil || borrowRate == nil {
		return new(big.Rat)
	}
	u := clampRat(utilization)
	if u.Sign() == 0 || borrowRate.Sign() == 0 {
		return new(big.Rat)
	}
	oneMinus := new(big.Rat).Sub(ratOne, m.ReserveFactor)
	if oneMinus.Sign() < 0 {
		oneMinus.SetInt64(0)
	}
	rate := new(big.Rat).Mul(u, borrowRate)
	return rate.Mul(rate, oneMinus)
}

func clampRat(r *big.Rat) *big.Rat {
	if r == nil || r.Sign() < 0 {
		return new(big.Rat)
	}
	if r.Cmp(ratOne) > 0 {
		return new(big.Rat).Set(ratOne)
	}
	return new(big.Rat).Set(r)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
