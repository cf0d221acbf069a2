package grind

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	xerrors "GrinderAI-Chain/internal/errors"
)

// DefaultUnitDecimals 是原生单位与整币之间的换算精度（1 ETH = 10^18 wei）。
const DefaultUnitDecimals int32 = 18

// CostGate 将批次的执行成本换算为法币并与线性预算比较。
type CostGate struct {
	perPoolCap   decimal.Decimal
	unitDecimals int32
}

// NewCostGate 创建成本门控，perPoolCap 为每个池子允许的法币成本上限。
func NewCostGate(perPoolCap decimal.Decimal, unitDecimals int32) (*CostGate, error) {
	if !perPoolCap.IsPositive() {
		return nil, xerrors.New(CodeInvalidCycleArg, fmt.Sprintf("per pool cost cap must be positive, got %s", perPoolCap))
	}
	if unitDecimals < 0 {
		return nil, xerrors.New(CodeInvalidCycleArg, fmt.Sprintf("unit decimals must not be negative, got %d", unitDecimals))
	}
	return &CostGate{perPoolCap: perPoolCap, unitDecimals: unitDecimals}, nil
}

// Budget 返回批次大小为 size 时的法币预算：perPoolCap × size。
func (g *CostGate) Budget(size int) decimal.Decimal {
	return g.perPoolCap.Mul(decimal.NewFromInt(int64(size)))
}

// FiatCost 计算 unitCost × unitPrice ÷ 10^unitDecimals × priceEstimate。
func (g *CostGate) FiatCost(unitCost uint64, unitPrice *big.Int, priceEstimate decimal.Decimal) decimal.Decimal {
	return FiatCost(unitCost, unitPrice, priceEstimate, g.unitDecimals)
}

// Allow 判断批次成本是否严格低于预算。
func (g *CostGate) Allow(unitCost uint64, unitPrice *big.Int, priceEstimate decimal.Decimal, size int) (bool, decimal.Decimal, decimal.Decimal) {
	cost := g.FiatCost(unitCost, unitPrice, priceEstimate)
	budget := g.Budget(size)
	return cost.LessThan(budget), cost, budget
}

// FiatCost 是不依赖网络的纯算术换算。
func FiatCost(unitCost uint64, unitPrice *big.Int, priceEstimate decimal.Decimal, unitDecimals int32) decimal.Decimal {
	if unitPrice == nil {
		unitPrice = new(big.Int)
	}
	units := decimal.NewFromBigInt(new(big.Int).SetUint64(unitCost), 0)
	price := decimal.NewFromBigInt(unitPrice, 0)
	return units.Mul(price).Shift(-unitDecimals).Mul(priceEstimate)
}

// VerifyCost 判断 fiatCost 是否严格小于 budget，相等视为不通过。
func VerifyCost(unitCost uint64, unitPrice *big.Int, priceEstimate, budget decimal.Decimal, unitDecimals int32) bool {
	return FiatCost(unitCost, unitPrice, priceEstimate, unitDecimals).LessThan(budget)
}
