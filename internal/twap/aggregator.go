package twap

// Fold 滚动加权平均
// 返回合并后的均价和总量，qty为0时直接取新成交的价格
// 既用于把一条推送里的多腿成交折叠成一笔，也用于更新执行进度
func Fold(avgPrice, qty, newQty, newPrice float64) (float64, float64) {
	total := qty + newQty
	if total == 0 {
		return newPrice, 0
	}
	newAvg := (avgPrice*qty + newPrice*newQty) / total
	return newAvg, total
}
