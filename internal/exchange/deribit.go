package exchange

import (
	"context"
	"fmt"
	"strconv"
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
)

type Deribit struct {
	account string
	cfg     conf.Deribit
	rest    Rest
}

// NewDeribit account选择子账户的API凭证，手续费率查询始终走MAIN（rest协作方内部处理）
func NewDeribit(cfg conf.Deribit, account string, rest Rest) *Deribit {
	return &Deribit{account: strings.ToUpper(account), cfg: cfg, rest: rest}
}

func (v *Deribit) Exchange() string { return consts.ExchangeDeribit }
func (v *Deribit) Market() string   { return consts.MarketFutures }
func (v *Deribit) Account() string  { return v.account }

func (v *Deribit) Init(ctx context.Context, coin string, leverage int) (*Instrument, error) {
	coin = strings.ToUpper(coin)

	symbol, err := deribitSymbol(coin)
	if err != nil {
		return nil, err
	}

	inst := &Instrument{
		Symbol:      symbol,
		PriceSymbol: symbol,
		FeeMode:     FeeDenominator,
		// 一张合约10美元，输入的目标量按张折算
		QtyScale: 10,
		Rules:    twap.SizeRules{Precision: 0, ContractMultiple: 10},
	}

	commission, err := v.rest.CommissionRate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	inst.Commission = commission

	return inst, nil
}

// BTC-PERP -> BTC-PERPETUAL；BTC-250926 -> BTC-26SEP25
func deribitSymbol(coin string) (string, error) {
	if strings.Contains(coin, "PERP") {
		return coin + "ETUAL", nil
	}
	name := strings.Split(coin, "-")
	code := name[len(name)-1]
	if len(code) != 6 {
		return "", errors.Newf(ecode.InvalidParamErr, "deribit expiry code %q", code)
	}
	month, err := strconv.Atoi(code[2:4])
	if err != nil || month < 1 || month > 12 {
		return "", errors.Newf(ecode.InvalidParamErr, "deribit expiry month %q", code)
	}
	abbr := strings.ToUpper(time.Month(month).String()[:3])
	return name[0] + "-" + code[4:6] + abbr + code[0:2], nil
}

func (v *Deribit) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	return v.rest.LastPrice(ctx, priceSymbol)
}

func (v *Deribit) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return v.rest.PlaceMarketOrder(ctx, order)
}

func (v *Deribit) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error) {
	topic := fmt.Sprintf("user.trades.%s.raw", strings.ToUpper(symbol))

	session := stream.NewSession(stream.Config{
		URL:          v.cfg.WsURL,
		Authenticate: v.auth,
	})

	directives := []stream.Directive{{
		Sub: map[string]interface{}{
			"jsonrpc": "2.0", "id": 100, "method": "private/subscribe",
			"params": map[string]interface{}{"channels": []string{topic}},
		},
		Unsub: map[string]interface{}{
			"jsonrpc": "2.0", "id": 100, "method": "private/unsubscribe",
			"params": map[string]interface{}{"channels": []string{topic}},
		},
	}}

	session.Start(directives, deliverFills(v.NormalizeFill, onFill))
	return session, nil
}

func (v *Deribit) auth(ctx context.Context, conn *websocket.Conn) error {
	key, ok := v.cfg.Accounts[v.account]
	if !ok {
		return errors.Newf(ecode.InvalidParamErr, "deribit account %q not configured", v.account)
	}
	req := map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "public/auth",
		"params": map[string]interface{}{
			"grant_type":    "client_credentials",
			"client_id":     key.ApiKey,
			"client_secret": key.SecretKey,
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}
	raw, err := readAck(ctx, conn)
	if err != nil {
		return err
	}
	var ack struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}
	if ack.Error != nil {
		return errors.Newf(ecode.TransportErr, "deribit ws auth rejected: %s", ack.Error.Message)
	}
	return nil
}

type deribitTradesMsg struct {
	Method string `json:"method"`
	Params struct {
		Data []struct {
			InstrumentName string  `json:"instrument_name"`
			State          string  `json:"state"`
			Direction      string  `json:"direction"`
			OrderId        string  `json:"order_id"`
			Price          float64 `json:"price"`
			Amount         float64 `json:"amount"`
			Timestamp      int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params"`
}

// NormalizeFill 一笔市价单的多条成交腿会打包在同一条推送里
// 按滚动均价把各腿折成一条聚合成交，市价单一次吃完所以Final恒为true
func (v *Deribit) NormalizeFill(raw []byte) (*model.Fill, error) {
	var msg deribitTradesMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil
	}
	if msg.Method != "subscription" {
		return nil, nil
	}

	var fill *model.Fill
	for _, leg := range msg.Params.Data {
		if leg.State != "filled" {
			continue
		}
		if fill == nil {
			side := model.OrderSide(strings.ToUpper(leg.Direction))
			if !model.ValidSide(side) {
				return nil, errors.Newf(ecode.UnrecognizedSideErr, "deribit direction %q", leg.Direction)
			}
			fill = &model.Fill{
				OrderId: leg.OrderId,
				Symbol:  leg.InstrumentName,
				Price:   leg.Price,
				Qty:     leg.Amount,
				Side:    side,
				Time:    time.UnixMilli(leg.Timestamp),
				Final:   true,
			}
			continue
		}
		fill.Price, fill.Qty = twap.Fold(fill.Price, fill.Qty, leg.Amount, leg.Price)
	}
	return fill, nil
}
