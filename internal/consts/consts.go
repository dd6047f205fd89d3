package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

// 支持的交易所
const (
	ExchangeBinance  = "BINANCE"
	ExchangeOkex     = "OKEX"
	ExchangeCoinbase = "COINBASE"
	ExchangeDeribit  = "DERIBIT"
)

// 市场类型
const (
	MarketSpot        = "SPOT"
	MarketUSDTFutures = "USDT-FUTURES"
	MarketCoinFutures = "COIN-FUTURES"
	MarketFutures     = "FUTURES"
)

const (
	// 进度通知频率：每执行 N 笔编辑一次进度消息
	NotifyEveryNExecutions = 10

	// 数量对账使用的小数位，target-executed 在这个精度下为 0 视为完成
	CompleteRoundPlaces = 8

	// 调度循环里 REST 调用的超时时间
	TickRequestTimeout = 10 * time.Second
)

// 客户端订单id前缀，用于在成交回报里识别本程序自己的单子
// （交易所网页端下的单以 web 开头，必须被过滤掉）
const ClientOrderPrefix = "twap"
