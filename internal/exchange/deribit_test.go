package exchange

import (
	"math"
	"testing"

	"twapexecution/conf"
	"twapexecution/internal/model"
)

func TestDeribitSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"BTC-PERP", "BTC-PERPETUAL"},
		{"ETH-PERP", "ETH-PERPETUAL"},
		{"BTC-250926", "BTC-26SEP25"},
		{"BTC-210625", "BTC-25JUN21"},
		{"ETH-251226", "ETH-26DEC25"},
	}
	for _, tc := range cases {
		got, err := deribitSymbol(tc.in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("deribitSymbol(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestDeribitSymbolInvalid(t *testing.T) {
	for _, in := range []string{"BTC-2509", "BTC-259926"} {
		if _, err := deribitSymbol(in); err == nil {
			t.Errorf("%s 应报错", in)
		}
	}
}

func newDeribit() *Deribit {
	return NewDeribit(conf.Deribit{}, "SUB1", nil)
}

// 一条推送里的多腿成交按滚动均价折叠成一笔
func TestDeribitNormalizeLegFolding(t *testing.T) {
	raw := []byte(`{"method":"subscription","params":{"data":[
		{"instrument_name":"BTC-PERPETUAL","state":"filled","direction":"buy","order_id":"d1","price":50000,"amount":10,"timestamp":1700000000000},
		{"instrument_name":"BTC-PERPETUAL","state":"filled","direction":"buy","order_id":"d1","price":50100,"amount":30,"timestamp":1700000000001}
	]}}`)

	fill, err := newDeribit().NormalizeFill(raw)
	if err != nil || fill == nil {
		t.Fatalf("fill=%v err=%v", fill, err)
	}
	if fill.Qty != 40 {
		t.Errorf("qty = %v, want 40", fill.Qty)
	}
	// (50000*10 + 50100*30)/40 = 50075
	if math.Abs(fill.Price-50075) > 1e-9 {
		t.Errorf("price = %v, want 50075", fill.Price)
	}
	if fill.Side != model.Buy || !fill.Final {
		t.Errorf("side=%v final=%v", fill.Side, fill.Final)
	}
}

// 未成交状态的腿被跳过
func TestDeribitNormalizeSkipsOpenLegs(t *testing.T) {
	raw := []byte(`{"method":"subscription","params":{"data":[
		{"instrument_name":"BTC-PERPETUAL","state":"open","direction":"buy","order_id":"d2","price":50000,"amount":10,"timestamp":1700000000000}
	]}}`)
	fill, err := newDeribit().NormalizeFill(raw)
	if err != nil || fill != nil {
		t.Errorf("fill=%v err=%v", fill, err)
	}
}

func TestDeribitNormalizeNoise(t *testing.T) {
	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":100,"result":["user.trades.BTC-PERPETUAL.raw"]}`,
		`{"method":"heartbeat"}`,
		`broken`,
	} {
		fill, err := newDeribit().NormalizeFill([]byte(raw))
		if err != nil || fill != nil {
			t.Errorf("噪音应被静默丢弃: %s", raw)
		}
	}
}
