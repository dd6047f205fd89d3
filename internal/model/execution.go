package model

import (
	"math"
	"time"
)

// ExecutionState 一次TWAP执行的全部可变状态
// 并发约束：成交回调和调度循环都会读写它，统一由控制器的互斥锁保护
type ExecutionState struct {
	Exchange string
	Market   string
	// 交易所格式化后的交易对
	Symbol string
	Side   OrderSide

	// 目标
	Qty            float64
	PriceThreshold float64
	// 执行窗口（分钟）与每分钟下单次数
	ExecutionMinutes float64
	FreqPerMinute    float64

	// 进度
	ExecutedQty float64
	AvgPrice    float64
	Complete    bool
	// 已发出的下单次数（下单失败会回退）
	Executions int
}

// Remaining 剩余待执行数量
func (s *ExecutionState) Remaining() float64 {
	return s.Qty - s.ExecutedQty
}

// Done 剩余量在对账精度下归零即完成
func (s *ExecutionState) Done(places int) bool {
	pow := math.Pow10(places)
	return math.Round(s.Remaining()*pow)/pow == 0
}

// ExecutionRecord 追加写入的执行记录行，每笔成交一行
// 不做更新和删除，最新一行即当前状态
type ExecutionRecord struct {
	ID          uint      `gorm:"column:id;primary_key" json:"id"`
	Exchange    string    `gorm:"column:exchange" json:"exchange"`
	Market      string    `gorm:"column:market" json:"market"`
	OrderId     string    `gorm:"column:order_id" json:"order_id"`
	Time        time.Time `gorm:"column:time;not null" json:"time"`
	Symbol      string    `gorm:"column:symbol" json:"symbol"`
	Price       float64   `gorm:"column:price" json:"price"`
	Side        OrderSide `gorm:"column:side" json:"side"`
	Qty         float64   `gorm:"column:qty" json:"qty"`
	ExecutedQty float64   `gorm:"column:executed_qty" json:"executed_qty"`
	AvgPrice    float64   `gorm:"column:average_price" json:"average_price"`
	Remaining   float64   `gorm:"column:remaining_qty" json:"remaining_qty"`
	Complete    bool      `gorm:"column:complete_flag" json:"complete_flag"`
}

func (ExecutionRecord) TableName() string {
	return "execution"
}
