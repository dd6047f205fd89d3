package exchange

import (
	"testing"

	"twapexecution/conf"
	"twapexecution/internal/consts"
	"twapexecution/internal/model"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"
)

func newSpotBinance() *Binance {
	return NewBinance(consts.MarketSpot, conf.Binance{}, nil)
}

func TestBinanceNormalizeSpotFill(t *testing.T) {
	raw := []byte(`{"e":"executionReport","c":"twap123","s":"btcusdt","S":"BUY","X":"PARTIALLY_FILLED","L":"50000.5","l":"0.1","i":12345,"T":1700000000000}`)

	fill, err := newSpotBinance().NormalizeFill(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill == nil {
		t.Fatal("应产出成交")
	}
	if fill.Symbol != "BTCUSDT" || fill.Price != 50000.5 || fill.Qty != 0.1 {
		t.Errorf("fill = %+v", fill)
	}
	if fill.Side != model.Buy {
		t.Errorf("side = %v, want BUY", fill.Side)
	}
	if fill.Final {
		t.Error("部分成交不应是Final")
	}
	if fill.OrderId != "12345" {
		t.Errorf("order_id = %v", fill.OrderId)
	}
}

func TestBinanceNormalizeSpotFinal(t *testing.T) {
	raw := []byte(`{"e":"executionReport","c":"twap123","s":"BTCUSDT","S":"SELL","X":"FILLED","L":"50000","l":"0.2","i":1,"T":1700000000000}`)
	fill, err := newSpotBinance().NormalizeFill(raw)
	if err != nil || fill == nil {
		t.Fatalf("fill=%v err=%v", fill, err)
	}
	if !fill.Final {
		t.Error("FILLED 应是Final")
	}
}

// 网页端的单子（客户端id以web开头）不计入
func TestBinanceNormalizeWebOrderFiltered(t *testing.T) {
	raw := []byte(`{"e":"executionReport","c":"web_abc","s":"BTCUSDT","S":"BUY","X":"FILLED","L":"50000","l":"0.1","i":1,"T":1700000000000}`)
	fill, err := newSpotBinance().NormalizeFill(raw)
	if err != nil || fill != nil {
		t.Errorf("网页单应被静默丢弃, fill=%v err=%v", fill, err)
	}
}

// 其他事件和非成交状态是噪音
func TestBinanceNormalizeNoise(t *testing.T) {
	for _, raw := range []string{
		`{"e":"outboundAccountPosition"}`,
		`{"e":"executionReport","c":"twap1","X":"NEW","L":"","l":"","s":"BTCUSDT","S":"BUY","i":1,"T":1}`,
		`not json at all`,
	} {
		fill, err := newSpotBinance().NormalizeFill([]byte(raw))
		if err != nil || fill != nil {
			t.Errorf("噪音应被静默丢弃: %s => fill=%v err=%v", raw, fill, err)
		}
	}
}

func TestBinanceNormalizeFuturesEnvelope(t *testing.T) {
	v := NewBinance(consts.MarketUSDTFutures, conf.Binance{}, nil)
	raw := []byte(`{"e":"ORDER_TRADE_UPDATE","T":1700000000000,"o":{"c":"twap9","s":"BTCUSDT","S":"BUY","X":"FILLED","L":"50000","l":"0.5","i":777}}`)

	fill, err := v.NormalizeFill(raw)
	if err != nil || fill == nil {
		t.Fatalf("fill=%v err=%v", fill, err)
	}
	if fill.OrderId != "777" || fill.Qty != 0.5 || !fill.Final {
		t.Errorf("fill = %+v", fill)
	}
}

func TestBinanceNormalizeUnknownSide(t *testing.T) {
	raw := []byte(`{"e":"executionReport","c":"twap1","s":"BTCUSDT","S":"HOLD","X":"FILLED","L":"50000","l":"0.1","i":1,"T":1}`)
	_, err := newSpotBinance().NormalizeFill(raw)
	if err == nil {
		t.Fatal("未知方向应报错")
	}
	if errors.Code(err) != ecode.UnrecognizedSideErr {
		t.Errorf("code = %v, want UnrecognizedSideErr", errors.Code(err))
	}
}
