package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
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

type Coinbase struct {
	cfg  conf.Coinbase
	rest Rest
}

func NewCoinbase(cfg conf.Coinbase, rest Rest) *Coinbase {
	return &Coinbase{cfg: cfg, rest: rest}
}

func (v *Coinbase) Exchange() string { return consts.ExchangeCoinbase }
func (v *Coinbase) Market() string   { return consts.MarketSpot }

func (v *Coinbase) Init(ctx context.Context, coin string, leverage int) (*Instrument, error) {
	coin = strings.ToUpper(coin)
	name := strings.Split(coin, "-")

	inst := &Instrument{
		// coinbase的交易对本来就是 BTC-USD 格式，不用改写
		Symbol:      coin,
		PriceSymbol: name[0] + "-USD",
		FeeMode:     FeeDenominator,
		QtyScale:    1,
	}

	commission, err := v.rest.CommissionRate(ctx, inst.Symbol)
	if err != nil {
		return nil, err
	}
	inst.Commission = commission

	precision, err := v.rest.QtyPrecision(ctx, inst.Symbol)
	if err != nil {
		return nil, errors.Wrap(ecode.PrecisionLookupErr, "coinbase qty precision lookup failed", err)
	}
	inst.Precision = precision
	inst.Rules = twap.SizeRules{Precision: precision, MinNotional: 10}

	return inst, nil
}

func (v *Coinbase) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	return v.rest.LastPrice(ctx, priceSymbol)
}

func (v *Coinbase) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return v.rest.PlaceMarketOrder(ctx, order)
}

func (v *Coinbase) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error) {
	// user频道的鉴权字段直接塞在订阅报文里
	timestamp := fmt.Sprintf("%.3f", float64(time.Now().UnixMilli())/1e3)
	sign, err := v.sign(timestamp + "GET" + "/users/self/verify")
	if err != nil {
		return nil, errors.Wrap(ecode.TransportErr, "coinbase ws signature failed", err)
	}

	sub := map[string]interface{}{
		"type":        "subscribe",
		"product_ids": []string{strings.ToUpper(symbol)},
		"channels":    []string{"user"},
		"signature":   sign,
		"key":         v.cfg.ApiKey,
		"passphrase":  v.cfg.Passphrase,
		"timestamp":   timestamp,
	}
	unsub := map[string]interface{}{
		"type":        "unsubscribe",
		"product_ids": []string{strings.ToUpper(symbol)},
		"channels":    []string{"user"},
	}

	session := stream.NewSession(stream.Config{URL: v.cfg.WsURL})
	session.Start([]stream.Directive{{Sub: sub, Unsub: unsub}}, deliverFills(v.NormalizeFill, onFill))
	return session, nil
}

// secret是base64过的，先解码再做HMAC
func (v *Coinbase) sign(message string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(v.cfg.SecretKey)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type coinbaseMsg struct {
	Type          string `json:"type"`
	ProductId     string `json:"product_id"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	Side          string `json:"side"`
	TakerOrderId  string `json:"taker_order_id"`
	Time          string `json:"time"`
	RemainingSize string `json:"remaining_size"`
}

// NormalizeFill coinbase user频道
// match推的side是maker方向，我们吃单成交所以要取反；
// 订单结束由done(remaining_size=0)单独推一条，只带Final标记不带成交数据
func (v *Coinbase) NormalizeFill(raw []byte) (*model.Fill, error) {
	var msg coinbaseMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}

	switch msg.Type {
	case "match":
		side := model.Buy
		if strings.ToUpper(msg.Side) == "BUY" {
			side = model.Sell
		}
		return &model.Fill{
			OrderId: msg.TakerOrderId,
			Symbol:  msg.ProductId,
			Price:   cast.ToFloat64(msg.Price),
			Qty:     cast.ToFloat64(msg.Size),
			Side:    side,
			Time:    parseISOTime(msg.Time),
			Final:   false,
		}, nil
	case "done":
		if cast.ToFloat64(msg.RemainingSize) != 0 {
			return nil, nil
		}
		return &model.Fill{Final: true}, nil
	}
	return nil, nil
}
