package grind

// SelectOperations 根据仓位快照返回按优先级排序的候选操作列表。
//
//	long.count == 0                                → [LongBuy]
//	long.count <  long.maxCount                    → [LongSell, LongBuy]
//	long.count >= long.maxCount, hedge.count == 0  → [LongSell, HedgeSell]
//	long.count >= long.maxCount, hedge.count >  0  → [HedgeRebuy, HedgeSell]
func SelectOperations(state PoolPositionState) []Operation {
	long, hedge := state.Long, state.Hedge
	switch {
	case long.Count == 0:
		return []Operation{OpLongBuy}
	case long.Count < long.MaxCount:
		return []Operation{OpLongSell, OpLongBuy}
	case hedge.Count == 0:
		return []Operation{OpLongSell, OpHedgeSell}
	default:
		return []Operation{OpHedgeRebuy, OpHedgeSell}
	}
}
