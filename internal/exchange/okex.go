package exchange

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
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
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
)

// 合约订单推送里的方向代码
var okexFuturesSides = map[string]model.OrderSide{
	"1": model.LongBuy,
	"2": model.ShortSell,
	"3": model.LongSell,
	"4": model.ShortBuy,
}

// OkexRest 在通用能力之外，合约还需要设置杠杆
type OkexRest interface {
	Rest
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

type Okex struct {
	market string
	cfg    conf.Okx
	rest   OkexRest
}

func NewOkex(market string, cfg conf.Okx, rest OkexRest) *Okex {
	return &Okex{market: strings.ToUpper(market), cfg: cfg, rest: rest}
}

func (v *Okex) Exchange() string { return consts.ExchangeOkex }
func (v *Okex) Market() string   { return v.market }

func (v *Okex) Init(ctx context.Context, coin string, leverage int) (*Instrument, error) {
	name := strings.Split(strings.ToUpper(coin), "-")

	inst := &Instrument{FeeMode: FeeDenominator, QtyScale: 1}

	if strings.Contains(v.market, "FUTURES") {
		quote := "USD"
		if strings.Contains(v.market, "USDT") {
			quote = "USDT"
		}
		// BTC-210625 -> BTC-USD-210625
		inst.Symbol = name[0] + "-" + quote + "-" + name[len(name)-1]
		inst.PriceSymbol = inst.Symbol
		if err := v.rest.SetLeverage(ctx, inst.Symbol, leverage); err != nil {
			return nil, err
		}
		// 合约按张数报单
		inst.Rules = twap.SizeRules{Precision: 0}
	} else {
		inst.FeeMode = FeeNumerator
		if contains(name, "USD") || contains(name, "USDT") {
			inst.Symbol = name[0] + "-USDT"
			inst.PriceSymbol = inst.Symbol
		} else {
			inst.Symbol = name[0] + "-" + name[1]
			inst.PriceSymbol = name[0] + "-USDT"
		}
	}

	commission, err := v.rest.CommissionRate(ctx, inst.Symbol)
	if err != nil {
		return nil, err
	}
	inst.Commission = commission

	precision, err := v.rest.QtyPrecision(ctx, inst.Symbol)
	if err != nil {
		return nil, errors.Wrap(ecode.PrecisionLookupErr, "okex qty precision lookup failed", err)
	}
	inst.Precision = precision
	if !strings.Contains(v.market, "FUTURES") {
		inst.Rules = twap.SizeRules{Precision: precision, MinNotional: 10}
	}

	return inst, nil
}

func (v *Okex) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	return v.rest.LastPrice(ctx, priceSymbol)
}

func (v *Okex) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return v.rest.PlaceMarketOrder(ctx, order)
}

func (v *Okex) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error) {
	channel := "spot"
	if strings.Contains(v.market, "FUTURES") {
		channel = "futures"
	}
	topic := fmt.Sprintf("%s/order:%s", channel, strings.ToUpper(symbol))

	session := stream.NewSession(stream.Config{
		URL:          v.cfg.WsURL,
		Authenticate: v.login,
	})

	directives := []stream.Directive{{
		Sub:   map[string]interface{}{"op": "subscribe", "args": []string{topic}},
		Unsub: map[string]interface{}{"op": "unsubscribe", "args": []string{topic}},
	}}

	session.Start(directives, deliverFills(v.NormalizeFill, onFill))
	return session, nil
}

// ws登录：timestamp+GET/users/self/verify 做 HMAC-SHA256 后base64
func (v *Okex) login(ctx context.Context, conn *websocket.Conn) error {
	timestamp := fmt.Sprintf("%.3f", float64(time.Now().UnixMilli())/1e3)
	message := timestamp + "GET" + "/users/self/verify"

	mac := hmac.New(sha256.New, []byte(v.cfg.SecretKey))
	mac.Write([]byte(message))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	login := map[string]interface{}{
		"op":   "login",
		"args": []string{v.cfg.ApiKey, v.cfg.Password, timestamp, sign},
	}
	if err := conn.WriteJSON(login); err != nil {
		return err
	}
	// 读掉登录应答，失败就让会话重连重来
	raw, err := readAck(ctx, conn)
	if err != nil {
		return err
	}
	var ack struct {
		Event   string `json:"event"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal(inflate(raw), &ack); err != nil {
		return err
	}
	if ack.Event == "error" {
		return errors.New(ecode.TransportErr, "okex ws login rejected")
	}
	return nil
}

type okexOrderMsg struct {
	Table string `json:"table"`
	Data  []struct {
		InstrumentId   string `json:"instrument_id"`
		State          string `json:"state"`
		Side           string `json:"side"`
		Type           string `json:"type"`
		OrderId        string `json:"order_id"`
		Timestamp      string `json:"timestamp"`
		FilledNotional string `json:"filled_notional"`
		FilledSize     string `json:"filled_size"`
		PriceAvg       string `json:"price_avg"`
		FilledQty      string `json:"filled_qty"`
	} `json:"data"`
}

// NormalizeFill okex的订单频道只在终态推一条聚合记录（state=2），Final恒为true
// 现货推的是成交额+成交量，均价要自己除出来；合约方向是1~4的数字代码
func (v *Okex) NormalizeFill(raw []byte) (*model.Fill, error) {
	raw = inflate(raw)

	var msg okexOrderMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	if len(msg.Data) == 0 {
		return nil, nil
	}
	data := msg.Data[0]
	if data.State != "2" {
		return nil, nil
	}

	fill := &model.Fill{
		OrderId: data.OrderId,
		Symbol:  data.InstrumentId,
		Time:    parseISOTime(data.Timestamp),
		Final:   true,
	}

	if strings.Contains(v.market, "FUTURES") {
		side, ok := okexFuturesSides[data.Type]
		if !ok {
			return nil, errors.Newf(ecode.UnrecognizedSideErr, "okex futures side code %q", data.Type)
		}
		fill.Side = side
		fill.Price = cast.ToFloat64(data.PriceAvg)
		fill.Qty = cast.ToFloat64(data.FilledQty)
	} else {
		side := model.OrderSide(strings.ToUpper(data.Side))
		if !model.ValidSide(side) {
			return nil, errors.Newf(ecode.UnrecognizedSideErr, "okex side %q", data.Side)
		}
		fill.Side = side
		size := cast.ToFloat64(data.FilledSize)
		if size == 0 {
			return nil, nil
		}
		fill.Price = cast.ToFloat64(data.FilledNotional) / size
		fill.Qty = size
	}

	return fill, nil
}

// v3接口的ws推送是raw deflate压缩的
func inflate(data []byte) []byte {
	if len(data) == 0 || data[0] == '{' {
		return data
	}
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return data
	}
	return out
}

func parseISOTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
