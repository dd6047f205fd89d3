package execution

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"twapexecution/internal/dao"
	"twapexecution/internal/exchange"
	"twapexecution/internal/model"
	"twapexecution/internal/twap"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 同步成交的假交易所：下单立即全量成交并推回调
type fakeVenue struct {
	price    float64
	rules    twap.SizeRules
	placeErr string
	// 前N次询价失败，priceFatalErr非nil时询价直接返回它
	priceErrs     int
	priceFatalErr error

	mu     sync.Mutex
	onFill func(*model.Fill)
	placed []float64
}

func (f *fakeVenue) Exchange() string { return "BINANCE" }
func (f *fakeVenue) Market() string   { return "SPOT" }

func (f *fakeVenue) Init(ctx context.Context, coin string, leverage int) (*exchange.Instrument, error) {
	return &exchange.Instrument{
		Symbol:      "BTCUSDT",
		PriceSymbol: "BTCUSDT",
		Precision:   f.rules.Precision,
		Commission:  0.001,
		FeeMode:     exchange.FeeDenominator,
		QtyScale:    1,
		Rules:       f.rules,
	}, nil
}

func (f *fakeVenue) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceFatalErr != nil {
		return 0, f.priceFatalErr
	}
	if f.priceErrs > 0 {
		f.priceErrs--
		return 0, errors.Wrap(ecode.TransportErr, "询价失败", context.DeadlineExceeded)
	}
	return f.price, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	if f.placeErr != "" {
		return &model.OrderResponse{ErrMsg: f.placeErr}, nil
	}
	f.mu.Lock()
	f.placed = append(f.placed, order.Quantity)
	onFill := f.onFill
	f.mu.Unlock()

	if onFill != nil {
		onFill(&model.Fill{
			OrderId: "f1",
			Symbol:  order.Symbol,
			Price:   f.price,
			Qty:     order.Quantity,
			Side:    order.Side,
			Time:    time.Now(),
			Final:   true,
		})
	}
	return &model.OrderResponse{OrderId: "f1"}, nil
}

func (f *fakeVenue) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (exchange.StreamHandle, error) {
	f.mu.Lock()
	f.onFill = onFill
	f.mu.Unlock()
	return fakeStream{}, nil
}

func (f *fakeVenue) placedOrders() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.placed...)
}

type fakeStream struct{}

func (fakeStream) Stop() error { return nil }

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	edits []string
}

func (n *fakeNotifier) Send(ctx context.Context, text string) (MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return len(n.sent), nil
}

func (n *fakeNotifier) Edit(ctx context.Context, ref MessageRef, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, text)
	return nil
}

func (n *fakeNotifier) lastSent() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1]
}

type fakeControl struct{ stop bool }

func (c *fakeControl) StopRequested(ctx context.Context, exchange, market string) bool {
	return c.stop
}

func newTestStore(t *testing.T) *dao.ExecutionDao {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	store, err := dao.NewExecutionDao(gdb)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// 目标100、5个切片、无闸门：恰好5笔，每笔随机化在[18,22)内，
// 最后一笔收口到精确余量，最终执行量严格等于目标量
func TestControllerFullExecution(t *testing.T) {
	venue := &fakeVenue{price: 1, rules: twap.SizeRules{Precision: 2, MinNotional: 10}}
	notify := &fakeNotifier{}

	ctrl, err := NewController(venue, newTestStore(t), notify, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := ctrl.Snapshot()
	if math.Abs(snap.ExecutedQty-100) > 1e-6 {
		t.Errorf("executed = %v, want 100", snap.ExecutedQty)
	}
	if !snap.Complete {
		t.Error("complete应为true")
	}
	if snap.Phase != "CLOSED" {
		t.Errorf("phase = %v, want CLOSED", snap.Phase)
	}

	placed := venue.placedOrders()
	if len(placed) != 5 {
		t.Fatalf("下单%d笔, want 5: %v", len(placed), placed)
	}
	var sum float64
	for i, size := range placed {
		if i < len(placed)-1 && (size < 18 || size >= 22.005) {
			t.Errorf("第%d笔 %v 不在[18,22)内", i+1, size)
		}
		sum += size
	}
	if math.Abs(sum-100) > 1e-6 {
		t.Errorf("切片合计 %v, want 100", sum)
	}

	if !strings.Contains(notify.lastSent(), "TWAP Stopped") {
		t.Errorf("最终汇总缺失: %q", notify.lastSent())
	}
}

// 买方闸门：价格110 > 阈值100，一笔都不下
func TestControllerGateBlocked(t *testing.T) {
	venue := &fakeVenue{price: 110, rules: twap.SizeRules{Precision: 2}}
	ctrl, err := NewController(venue, newTestStore(t), &fakeNotifier{}, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, PriceThreshold: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	time.Sleep(700 * time.Millisecond)
	if got := venue.placedOrders(); len(got) != 0 {
		t.Errorf("闸门期间不应下单: %v", got)
	}

	ctrl.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("用户停止不算错误: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop后Run未退出")
	}
	if ctrl.Snapshot().Phase != "CLOSED" {
		t.Errorf("phase = %v", ctrl.Snapshot().Phase)
	}
}

// 询价偶发超时是可恢复的tick失败：跳过该tick继续走节奏，最终照常跑完
func TestControllerPriceLookupFailureRecoverable(t *testing.T) {
	venue := &fakeVenue{
		price:     1,
		rules:     twap.SizeRules{Precision: 2, MinNotional: 10},
		priceErrs: 1,
	}
	ctrl, err := NewController(venue, newTestStore(t), &fakeNotifier{}, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("询价一次失败不应终结执行: %v", err)
	}

	snap := ctrl.Snapshot()
	if !snap.Complete || math.Abs(snap.ExecutedQty-100) > 1e-6 {
		t.Errorf("executed = %v complete = %v", snap.ExecutedQty, snap.Complete)
	}
	if got := venue.placedOrders(); len(got) != 5 {
		t.Errorf("跳过失败tick后仍应下满5笔: %v", got)
	}
}

// 携带致命错误码的询价失败照旧终结执行
func TestControllerPriceLookupFatalCode(t *testing.T) {
	venue := &fakeVenue{
		price:         1,
		rules:         twap.SizeRules{Precision: 2},
		priceFatalErr: errors.New(ecode.PrecisionLookupErr, "instrument not found"),
	}
	ctrl, err := NewController(venue, newTestStore(t), &fakeNotifier{}, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = ctrl.Run(context.Background())
	if errors.Code(err) != ecode.PrecisionLookupErr {
		t.Errorf("code = %v, want PrecisionLookupErr", errors.Code(err))
	}
	if got := venue.placedOrders(); len(got) != 0 {
		t.Errorf("致命询价错误后不应下单: %v", got)
	}
	if ctrl.Snapshot().Phase != "CLOSED" {
		t.Errorf("phase = %v, want CLOSED", ctrl.Snapshot().Phase)
	}
}

// 交易所拒单：不重试，立即FATAL退出，执行计数回退
func TestControllerFatalOnRejectedOrder(t *testing.T) {
	venue := &fakeVenue{price: 1, rules: twap.SizeRules{Precision: 2}, placeErr: "insufficient balance"}
	ctrl, err := NewController(venue, newTestStore(t), &fakeNotifier{}, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = ctrl.Run(context.Background())
	if err == nil {
		t.Fatal("拒单应返回错误")
	}
	if errors.Code(err) != ecode.VenueOrderErr {
		t.Errorf("code = %v, want VenueOrderErr", errors.Code(err))
	}

	snap := ctrl.Snapshot()
	if snap.Executions != 0 {
		t.Errorf("失败的下单计数应回退, executions = %d", snap.Executions)
	}
	if snap.Phase != "CLOSED" {
		t.Errorf("phase = %v, want CLOSED", snap.Phase)
	}
}

// 远程停止指令
func TestControllerRemoteStop(t *testing.T) {
	venue := &fakeVenue{price: 1, rules: twap.SizeRules{Precision: 2}}
	ctrl, err := NewController(venue, newTestStore(t), &fakeNotifier{}, &fakeControl{stop: true}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := venue.placedOrders(); len(got) != 0 {
		t.Errorf("停止指令先于首单: %v", got)
	}
}

// 执行记录逐行追加，executed_qty单调不减，complete只在最后一行翻真且不回退
func TestControllerRecordsMonotonic(t *testing.T) {
	venue := &fakeVenue{price: 1, rules: twap.SizeRules{Precision: 2, MinNotional: 10}}
	store := newTestStore(t)
	ctrl, err := NewController(venue, store, &fakeNotifier{}, &fakeControl{}, Params{
		Coin: "BTC-USD", Qty: 100, Side: model.Buy,
		ExecutionMinutes: 1.0 / 60, FreqPerMinute: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	last, err := store.LastRecord(context.Background())
	if err != nil || last == nil {
		t.Fatalf("last=%v err=%v", last, err)
	}
	if !last.Complete || math.Abs(last.ExecutedQty-100) > 1e-6 || math.Abs(last.Remaining) > 1e-6 {
		t.Errorf("最后一行 %+v", last)
	}
}

func TestControllerParamValidation(t *testing.T) {
	venue := &fakeVenue{price: 1}
	if _, err := NewController(venue, nil, nil, nil, Params{Qty: 0, Side: model.Buy, ExecutionMinutes: 1, FreqPerMinute: 1}); err == nil {
		t.Error("qty=0应报错")
	}
	if _, err := NewController(venue, nil, nil, nil, Params{Qty: 1, Side: "UP", ExecutionMinutes: 1, FreqPerMinute: 1}); err == nil {
		t.Error("非法方向应报错")
	}
}
