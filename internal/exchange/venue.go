package exchange

import (
	"context"
	"time"

	"twapexecution/internal/consts"
	"twapexecution/internal/model"
	"twapexecution/internal/twap"
	"twapexecution/pkg/logger"

	"github.com/gorilla/websocket"
)

// FeeMode 手续费在最终汇总里的修正位置
// NUMERATOR: 执行量按 (1-费率) 折减；DENOMINATOR: 均价按费率修正
type FeeMode string

const (
	FeeNumerator   FeeMode = "NUMERATOR"
	FeeDenominator FeeMode = "DENOMINATOR"
)

// Rest 下单与行情 REST 协作方
// 各交易所的请求签名和传输属于协作方实现，不属于本引擎
type Rest interface {
	// QtyPrecision 查询数量精度，失败对初始化是致命的
	QtyPrecision(ctx context.Context, symbol string) (int, error)
	CommissionRate(ctx context.Context, symbol string) (float64, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	// PlaceMarketOrder 下市价单，响应里带错误信息即视为失败，与HTTP状态码无关
	PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error)
}

// Instrument 初始化阶段解析出来的交易标的信息
type Instrument struct {
	// 下单和订阅用的交易对
	Symbol string
	// 询价用的交易对（现货非USD计价时和Symbol不同）
	PriceSymbol string
	Precision   int
	Commission  float64
	FeeMode     FeeMode
	Rules       twap.SizeRules
	// 目标数量换算倍数，deribit一张合约按10美元计
	QtyScale float64
}

// StreamHandle 已打开的用户数据流
type StreamHandle interface {
	Stop() error
}

func logWarn(err error) {
	logger.Warn("[Normalize] message dropped", logger.Pair("err", err.Error()))
}

// readAck 读握手应答，带截止时间：对端收下连接却不回应答时不能把会话卡死
func readAck(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	deadline := time.Now().Add(consts.TickRequestTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})
	_, raw, err := conn.ReadMessage()
	return raw, err
}

// Venue 交易所能力接口：符号格式化+精度查询、询价、下单、用户数据流
// 每个交易所实现一次，控制器只面向这个接口
type Venue interface {
	Exchange() string
	Market() string
	// Init 解析标的、查精度和手续费率、设置杠杆/持仓模式
	Init(ctx context.Context, coin string, leverage int) (*Instrument, error)
	LastPrice(ctx context.Context, priceSymbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error)
	// OpenStream 打开用户数据流，归一化后的成交通过 onFill 回调送出
	// 订阅指令由各自实现内部持有，控制器不接触
	OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error)
}
