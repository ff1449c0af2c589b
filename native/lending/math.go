package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	if den.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	result := new(big.Int).Quo(new(big.Int).Add(num, halfUp(den)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// rateFactor converts an annual rate into a ray growth factor covering
// elapsed seconds: 1 + rate * elapsed / secondsPerYear.
func rateFactor(rate *big.Rat, elapsed int64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed <= 0 {
		return new(big.Int).Set(ray)
	}
	perPeriod := new(big.Rat).Set(rate)
	perPeriod.Quo(perPeriod, new(big.Rat).SetInt64(secondsPerYear))
	perPeriod.Mul(perPeriod, new(big.Rat).SetInt64(elapsed))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perPeriod)
	return ratToRay(factor)
}

func sharesFromLiquidity(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	scaled.Add(scaled, halfUp(index))
	scaled.Quo(scaled, index)
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return big.NewInt(1)
	}
	return scaled
}

func liquidityFromShares(shares, index *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(shares, index)
	scaled.Add(scaled, halfRay)
	scaled.Quo(scaled, ray)
	return scaled
}

func scaledDebtFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	scaled.Add(scaled, halfUp(index))
	scaled.Quo(scaled, index)
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return big.NewInt(1)
	}
	return scaled
}

func debtFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	actual := new(big.Int).Mul(scaled, index)
	actual.Add(actual, halfRay)
	actual.Quo(actual, ray)
	return actual
}

// valueOf converts an asset quantity priced at rate into wei, rounding down.
func valueOf(quantity *big.Int, rate *big.Rat) *big.Int {
	if quantity == nil || quantity.Sign() <= 0 || rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Rat).Mul(new(big.Rat).SetInt(quantity), rate)
	return new(big.Int).Quo(value.Num(), value.Denom())
}

// bpsShare returns amount * bps / 10000, rounding down.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}
