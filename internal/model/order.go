package model

import "strings"

type OrderSide string

// 方向的封闭集合
// 现货只有 BUY/SELL，双向持仓的合约用 LONG-/SHORT- 前缀表示仓位方向
const (
	Buy       OrderSide = "BUY"
	Sell      OrderSide = "SELL"
	LongBuy   OrderSide = "LONG-BUY"
	LongSell  OrderSide = "LONG-SELL"
	ShortBuy  OrderSide = "SHORT-BUY"
	ShortSell OrderSide = "SHORT-SELL"
)

// IsBuy 买方向（含开多）。价格闸门的比较方向由它决定
func (s OrderSide) IsBuy() bool {
	return strings.Contains(string(s), "BUY")
}

// Split 拆出持仓方向和买卖方向，现货持仓方向为空
func (s OrderSide) Split() (posSide, side string) {
	parts := strings.SplitN(string(s), "-", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", parts[0]
}

func ValidSide(s OrderSide) bool {
	switch s {
	case Buy, Sell, LongBuy, LongSell, ShortBuy, ShortSell:
		return true
	}
	return false
}

// Order 市价单请求，Quantity 已按交易所精度处理
type Order struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	ClientOrderId string
}

type OrderResponse struct {
	OrderId string
	// 交易所返回的错误信息，非空即视为下单失败
	ErrMsg string
}
