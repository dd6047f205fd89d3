package twap

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFold(t *testing.T) {
	// 1@100 和 3@200 合并后均价175、总量4
	avg, qty := Fold(0, 0, 1, 100)
	avg, qty = Fold(avg, qty, 3, 200)

	if !almostEqual(avg, 175) {
		t.Errorf("avg = %v, want 175", avg)
	}
	if !almostEqual(qty, 4) {
		t.Errorf("qty = %v, want 4", qty)
	}
}

func TestFoldEmpty(t *testing.T) {
	avg, qty := Fold(0, 0, 0, 123.45)
	if avg != 123.45 || qty != 0 {
		t.Errorf("Fold(0,0,0,p) = (%v, %v), want (123.45, 0)", avg, qty)
	}
}

// 等量成交两两折叠和一次性折叠结果必须一致
func TestFoldAssociative(t *testing.T) {
	fills := []struct{ qty, price float64 }{
		{2, 100}, {2, 110}, {2, 90}, {2, 105},
	}

	// 逐笔折叠
	var avg1, qty1 float64
	for _, f := range fills {
		avg1, qty1 = Fold(avg1, qty1, f.qty, f.price)
	}

	// 先两两合并再折叠
	a, q := Fold(0, 0, fills[0].qty, fills[0].price)
	a, q = Fold(a, q, fills[1].qty, fills[1].price)
	b, p := Fold(0, 0, fills[2].qty, fills[2].price)
	b, p = Fold(b, p, fills[3].qty, fills[3].price)
	avg2, qty2 := Fold(a, q, p, b)

	if !almostEqual(avg1, avg2) || !almostEqual(qty1, qty2) {
		t.Errorf("逐笔折叠 (%v, %v) != 分组折叠 (%v, %v)", avg1, qty1, avg2, qty2)
	}
}
