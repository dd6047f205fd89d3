package twap

import (
	"math"
	"math/rand"
)

// SizeRules 交易所的下单数量约束
type SizeRules struct {
	// 数量小数位
	Precision int
	// 合约面额倍数（deribit按10张的整数倍报单），为0表示不限制
	ContractMultiple float64
	// 最小下单金额（USD计），剩余量的名义价值低于它就一次性打完，为0表示不启用
	MinNotional float64
}

// SlicePlan 每个tick临时计算出来的下单计划
type SlicePlan struct {
	// 随机化后、取整前的数量
	Raw float64
	// 最终下单数量，为0表示本轮无事可做，调度结束
	Size float64
	// 是否触发了清尾，把剩余量一次性打完
	Flush bool
}

// NextSlice 计算下一笔子单的数量
// 基础量 = (目标量/总分钟数)/每分钟次数，上下浮动10%打散固定节奏，
// 然后按精度取整（或向下取合约倍数），超出目标量就收口到精确余量，
// 剩余名义价值不足最小下单金额时直接清尾，避免留下无法执行的尘埃单
func NextSlice(executedQty, targetQty, executionMinutes, freqPerMinute, currentPrice float64, rules SizeRules) SlicePlan {
	remaining := targetQty - executedQty
	if roundTo(remaining, rules.Precision) <= 0 {
		return SlicePlan{}
	}

	base := (targetQty / executionMinutes) / freqPerMinute

	var plan SlicePlan
	if rules.ContractMultiple > 0 {
		plan.Raw = base
		plan.Size = base - math.Mod(base, rules.ContractMultiple)
	} else {
		plan.Raw = base*0.9 + rand.Float64()*base*0.2
		plan.Size = roundTo(plan.Raw, rules.Precision)
	}

	// 超量保护：最后一笔收口到精确余量
	if executedQty+plan.Size > targetQty {
		plan.Size = roundTo(remaining, rules.Precision)
	}

	// 尘埃保护：这笔之后剩的钱太少就这轮全部打完
	if rules.MinNotional > 0 {
		left := targetQty - executedQty - plan.Size
		if left*currentPrice < rules.MinNotional {
			plan.Size = roundTo(remaining, rules.Precision)
			plan.Flush = true
		}
	}

	if plan.Size < 0 {
		plan.Size = 0
	}
	return plan
}

func roundTo(x float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(x*pow) / pow
}
