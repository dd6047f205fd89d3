package exchange

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"twapexecution/conf"
	"twapexecution/internal/model"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"

	"github.com/goccy/go-json"
	goexv2 "github.com/nntaoli-project/goex/v2"
	goexmodel "github.com/nntaoli-project/goex/v2/model"
	"github.com/nntaoli-project/goex/v2/okx/futures"
	"github.com/nntaoli-project/goex/v2/okx/spot"
	"github.com/nntaoli-project/goex/v2/options"
	"github.com/spf13/cast"
)

// OkexGoexRest 基于goex的okx REST协作方，现货和交割合约共用
type OkexGoexRest struct {
	market string
	pub    goexv2.IPubRest
	prv    goexv2.IPrvRest

	mu     sync.Mutex
	loaded bool
}

func NewOkexGoexRest(market string, cfg conf.Okx) *OkexGoexRest {
	opts := []options.ApiOption{
		options.WithApiKey(cfg.ApiKey),
		options.WithApiSecretKey(cfg.SecretKey),
		options.WithPassphrase(cfg.Password),
	}

	r := &OkexGoexRest{market: strings.ToUpper(market)}
	if strings.Contains(r.market, "FUTURES") {
		pub := goexv2.OKx.Futures
		r.pub = pub
		r.prv = pub.NewPrvApi(opts...)
	} else {
		pub := goexv2.OKx.Spot
		r.pub = pub
		r.prv = pub.NewPrvApi(opts...)
	}
	return r
}

// 创建CurrencyPair前必须先拉一次ExchangeInfo，只拉一次
func (r *OkexGoexRest) toCurrencyPair(symbol string) (goexmodel.CurrencyPair, error) {
	r.mu.Lock()
	if !r.loaded {
		if _, _, err := r.pub.GetExchangeInfo(); err != nil {
			r.mu.Unlock()
			return goexmodel.CurrencyPair{}, err
		}
		r.loaded = true
	}
	r.mu.Unlock()

	parts := strings.Split(symbol, "-")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return r.pub.NewCurrencyPair(parts[0], parts[1])
}

func (r *OkexGoexRest) QtyPrecision(ctx context.Context, symbol string) (int, error) {
	pair, err := r.toCurrencyPair(symbol)
	if err != nil {
		return 0, err
	}
	return pair.QtyPrecision, nil
}

func (r *OkexGoexRest) LastPrice(ctx context.Context, symbol string) (float64, error) {
	pair, err := r.toCurrencyPair(symbol)
	if err != nil {
		return 0, err
	}
	ticker, _, err := r.pub.GetTicker(pair)
	if err != nil {
		return 0, err
	}
	if ticker == nil {
		return 0, errors.New(ecode.TransportErr, "okex ticker empty")
	}
	return ticker.Last, nil
}

// CommissionRate goex没有封装费率接口，直接签名请求 /api/v5/account/trade-fee
// 返回的taker费率是负数，取绝对值
func (r *OkexGoexRest) CommissionRate(ctx context.Context, symbol string) (float64, error) {
	instType := "SPOT"
	if strings.Contains(r.market, "FUTURES") {
		instType = "FUTURES"
	}

	params := url.Values{}
	params.Set("instType", instType)
	params.Set("instId", symbol)

	resp, err := r.doAuthRequest(http.MethodGet, "/api/v5/account/trade-fee", &params)
	if err != nil {
		return 0, err
	}

	var body struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Taker string `json:"taker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return 0, err
	}
	if body.Code != "0" || len(body.Data) == 0 {
		return 0, errors.Newf(ecode.TransportErr, "okex trade-fee failed: %s", body.Msg)
	}
	return math.Abs(cast.ToFloat64(body.Data[0].Taker)), nil
}

func (r *OkexGoexRest) doAuthRequest(method, path string, params *url.Values) ([]byte, error) {
	switch prv := r.prv.(type) {
	case *futures.PrvApi:
		reqUrl := fmt.Sprintf("%s%s", prv.UriOpts.Endpoint, path)
		_, resp, err := prv.DoAuthRequest(method, reqUrl, params, nil)
		return resp, err
	case *spot.PrvApi:
		reqUrl := fmt.Sprintf("%s%s", prv.UriOpts.Endpoint, path)
		_, resp, err := prv.DoAuthRequest(method, reqUrl, params, nil)
		return resp, err
	default:
		return nil, errors.New(ecode.TransportErr, "okex prv api type unsupported")
	}
}

func (r *OkexGoexRest) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	prv, ok := r.prv.(*futures.PrvApi)
	if !ok {
		return errors.New(ecode.InvalidParamErr, "只有合约可以设置杠杆")
	}
	opts := []goexmodel.OptionParameter{
		{Key: "mgnMode", Value: "cross"},
	}
	if _, err := prv.SetLeverage(symbol, strconv.Itoa(leverage), opts...); err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}
	return nil
}

func (r *OkexGoexRest) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	pair, err := r.toCurrencyPair(order.Symbol)
	if err != nil {
		return nil, errors.Wrap(ecode.VenueOrderErr, "okex symbol lookup failed", err)
	}

	side, err := goexSide(order.Side)
	if err != nil {
		return nil, err
	}

	opts := []goexmodel.OptionParameter{
		{Key: "clOrdId", Value: order.ClientOrderId},
	}

	created, resp, err := r.prv.CreateOrder(pair, order.Quantity, 0, side, goexmodel.OrderType_Market, opts...)
	if err != nil {
		return &model.OrderResponse{ErrMsg: fmt.Sprintf("%v: %s", err, resp)}, nil
	}
	return &model.OrderResponse{OrderId: created.Id}, nil
}

func goexSide(side model.OrderSide) (goexmodel.OrderSide, error) {
	switch side {
	case model.Buy:
		return goexmodel.Spot_Buy, nil
	case model.Sell:
		return goexmodel.Spot_Sell, nil
	case model.LongBuy:
		return goexmodel.Futures_OpenBuy, nil
	case model.ShortSell:
		return goexmodel.Futures_OpenSell, nil
	case model.LongSell:
		return goexmodel.Futures_CloseBuy, nil
	case model.ShortBuy:
		return goexmodel.Futures_CloseSell, nil
	default:
		var zero goexmodel.OrderSide
		return zero, errors.Newf(ecode.UnrecognizedSideErr, "side %q", side)
	}
}
