package model

import "time"

// NormalizedFill 各交易所成交推送统一化之后的成交事件
// 由归一化层产生，执行控制器消费一次
type Fill struct {
	OrderId string
	Symbol  string
	Price   float64
	Qty     float64
	Side    OrderSide
	Time    time.Time
	// Final 表示该订单已经完全成交（FILLED），用来决定是否发进度通知
	// 只推一条聚合终态记录的交易所（okex、deribit）恒为 true
	Final bool
}
