package exchange

import (
	"context"
	"strings"
	"time"

	"twapexecution/conf"
	"twapexecution/internal/consts"
	"twapexecution/internal/model"
	"twapexecution/internal/stream"
	"twapexecution/internal/twap"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// BinanceRest 币安REST协作方，在通用能力之外还要维护用户数据流的listenKey
type BinanceRest interface {
	Rest
	CreateListenKey(ctx context.Context) (string, error)
	RenewListenKey(ctx context.Context) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// 开启双向持仓模式，LONG-/SHORT- 方向的单子需要
	EnableDualPositionMode(ctx context.Context) error
	FreeBalance(ctx context.Context, asset string) (float64, error)
}

type Binance struct {
	market string
	wsURL  string
	rest   BinanceRest
}

func NewBinance(market string, cfg conf.Binance, rest BinanceRest) *Binance {
	market = strings.ToUpper(market)
	var wsURL string
	switch market {
	case consts.MarketUSDTFutures:
		wsURL = cfg.UsdtFuturesWsURL
	case consts.MarketCoinFutures:
		wsURL = cfg.CoinFuturesWsURL
	default:
		wsURL = cfg.SpotWsURL
	}
	return &Binance{market: market, wsURL: wsURL, rest: rest}
}

func (v *Binance) Exchange() string { return consts.ExchangeBinance }
func (v *Binance) Market() string   { return v.market }

func (v *Binance) Init(ctx context.Context, coin string, leverage int) (*Instrument, error) {
	name := strings.Split(strings.ToUpper(coin), "-")

	inst := &Instrument{FeeMode: FeeDenominator, QtyScale: 1}

	switch v.market {
	case consts.MarketCoinFutures:
		// BTC-210625 -> BTCUSD_210625
		inst.Symbol = name[0] + "USD_" + name[len(name)-1]
		inst.PriceSymbol = inst.Symbol
	case consts.MarketUSDTFutures:
		inst.Symbol = name[0] + "USDT"
		inst.PriceSymbol = inst.Symbol
	default: // 现货
		if contains(name, "USD") || contains(name, "USDT") {
			inst.Symbol = name[0] + "USDT"
			inst.PriceSymbol = inst.Symbol
		} else {
			inst.Symbol = name[0] + name[1]
			inst.PriceSymbol = name[0] + "USDT"
		}
	}

	commission, err := v.rest.CommissionRate(ctx, inst.Symbol)
	if err != nil {
		return nil, err
	}
	inst.Commission = commission

	if v.market == consts.MarketSpot {
		// BNB余额足够时手续费从BNB扣并享受75折，买的就是BNB时例外
		bnb, err := v.rest.FreeBalance(ctx, "BNB")
		if err != nil {
			return nil, err
		}
		switch {
		case bnb <= 1:
			inst.FeeMode = FeeNumerator
		case strings.HasPrefix(inst.Symbol, "BNB"):
			inst.FeeMode = FeeNumerator
			inst.Commission *= 0.75
		default:
			inst.Commission *= 0.75
		}
	} else {
		if err := v.rest.SetLeverage(ctx, inst.Symbol, leverage); err != nil {
			return nil, err
		}
		if err := v.rest.EnableDualPositionMode(ctx); err != nil {
			return nil, err
		}
	}

	precision, err := v.rest.QtyPrecision(ctx, inst.Symbol)
	if err != nil {
		return nil, errors.Wrap(ecode.PrecisionLookupErr, "binance qty precision lookup failed", err)
	}
	inst.Precision = precision

	inst.Rules = twap.SizeRules{Precision: precision}
	switch v.market {
	case consts.MarketSpot:
		inst.Rules.MinNotional = 10
	case consts.MarketUSDTFutures:
		inst.Rules.MinNotional = 5
	}

	return inst, nil
}

func (v *Binance) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	return v.rest.LastPrice(ctx, priceSymbol)
}

func (v *Binance) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return v.rest.PlaceMarketOrder(ctx, order)
}

func (v *Binance) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error) {
	// 用户数据流先申请listenKey，之后每30分钟续期一次防止被断开
	listenKey, err := v.rest.CreateListenKey(ctx)
	if err != nil {
		return nil, errors.Wrap(ecode.TransportErr, "create listen key failed", err)
	}

	session := stream.NewSession(stream.Config{
		URL:            v.wsURL,
		Keepalive:      v.rest.RenewListenKey,
		KeepaliveEvery: 30 * time.Minute,
	})

	directives := []stream.Directive{{
		Sub:   map[string]interface{}{"method": "SUBSCRIBE", "params": []string{listenKey}, "id": 0},
		Unsub: map[string]interface{}{"method": "UNSUBSCRIBE", "params": []string{listenKey}, "id": 0},
	}}

	session.Start(directives, deliverFills(v.NormalizeFill, onFill))
	return session, nil
}

// 现货 executionReport 原始字段
type binanceSpotReport struct {
	Event     string `json:"e"`
	ClientId  string `json:"c"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Status    string `json:"X"`
	LastPrice string `json:"L"`
	LastQty   string `json:"l"`
	OrderId   int64  `json:"i"`
	TradeTime int64  `json:"T"`
}

// 合约 ORDER_TRADE_UPDATE 外层多一个 o 信封
type binanceFuturesReport struct {
	Event     string `json:"e"`
	TradeTime int64  `json:"T"`
	Order     struct {
		ClientId  string `json:"c"`
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		Status    string `json:"X"`
		LastPrice string `json:"L"`
		LastQty   string `json:"l"`
		OrderId   int64  `json:"i"`
	} `json:"o"`
}

// NormalizeFill 币安成交回报归一化
// 只认 FILLED/PARTIALLY_FILLED，部分成交每腿一条，Final=完全成交；
// 网页端下的单（客户端id以web开头）不计入TWAP
func (v *Binance) NormalizeFill(raw []byte) (*model.Fill, error) {
	if v.market == consts.MarketSpot {
		var msg binanceSpotReport
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, nil
		}
		if msg.Event != "executionReport" || strings.HasPrefix(msg.ClientId, "web") {
			return nil, nil
		}
		return binanceFill(msg.Symbol, msg.Side, msg.Status, msg.LastPrice, msg.LastQty, msg.OrderId, msg.TradeTime)
	}

	var msg binanceFuturesReport
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	if msg.Event != "ORDER_TRADE_UPDATE" || strings.HasPrefix(msg.Order.ClientId, "web") {
		return nil, nil
	}
	o := msg.Order
	return binanceFill(o.Symbol, o.Side, o.Status, o.LastPrice, o.LastQty, o.OrderId, msg.TradeTime)
}

func binanceFill(symbol, side, status, price, qty string, orderId, tradeTime int64) (*model.Fill, error) {
	if status != "FILLED" && status != "PARTIALLY_FILLED" {
		return nil, nil
	}
	if price == "" || qty == "" {
		return nil, nil
	}
	s := model.OrderSide(strings.ToUpper(side))
	if !model.ValidSide(s) {
		return nil, errors.Newf(ecode.UnrecognizedSideErr, "binance side %q", side)
	}
	return &model.Fill{
		OrderId: cast.ToString(orderId),
		Symbol:  strings.ToUpper(symbol),
		Price:   cast.ToFloat64(price),
		Qty:     cast.ToFloat64(qty),
		Side:    s,
		Time:    time.UnixMilli(tradeTime),
		Final:   status == "FILLED",
	}, nil
}

func contains(parts []string, s string) bool {
	for _, p := range parts {
		if p == s {
			return true
		}
	}
	return false
}

// 归一化层和会话回调之间的胶水：噪音丢弃，识别不了的方向记日志后丢弃
func deliverFills(normalize func([]byte) (*model.Fill, error), onFill func(*model.Fill)) func(raw []byte) {
	return func(raw []byte) {
		fill, err := normalize(raw)
		if err != nil {
			logWarn(err)
			return
		}
		if fill != nil {
			onFill(fill)
		}
	}
}
