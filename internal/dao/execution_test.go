package dao

import (
	"context"
	"testing"
	"time"

	"twapexecution/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDao(t *testing.T) *ExecutionDao {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存库失败: %v", err)
	}
	d, err := NewExecutionDao(gdb)
	if err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return d
}

func record(side model.OrderSide, market string, executed, avg float64, complete bool) *model.ExecutionRecord {
	return &model.ExecutionRecord{
		Exchange:    "BINANCE",
		Market:      market,
		OrderId:     "1",
		Time:        time.Now(),
		Symbol:      "BTCUSDT",
		Price:       avg,
		Side:        side,
		Qty:         1,
		ExecutedQty: executed,
		AvgPrice:    avg,
		Remaining:   100 - executed,
		Complete:    complete,
	}
}

func TestAppendAndLastRecord(t *testing.T) {
	d := newTestDao(t)
	ctx := context.Background()

	last, err := d.LastRecord(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Fatal("空库应返回nil")
	}

	if err := d.Append(ctx, record(model.Buy, "SPOT", 10, 100, false)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := d.Append(ctx, record(model.Buy, "SPOT", 25, 101, false)); err != nil {
		t.Fatalf("append: %v", err)
	}

	last, err = d.LastRecord(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.ExecutedQty != 25 {
		t.Fatalf("最新一行应是第二条, got %+v", last)
	}
}

// 续跑守卫矩阵：只有 cont+同方向+同市场+未完成 才恢复进度
func TestRestore(t *testing.T) {
	cases := []struct {
		name     string
		cont     bool
		side     model.OrderSide
		market   string
		complete bool
		resumed  bool
	}{
		{"正常续跑", true, model.Buy, "SPOT", false, true},
		{"未要求续跑", false, model.Buy, "SPOT", false, false},
		{"方向不一致", true, model.Sell, "SPOT", false, false},
		{"市场不一致", true, model.Buy, "USDT-FUTURES", false, false},
		{"上次已完成", true, model.Buy, "SPOT", true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDao(t)
			ctx := context.Background()
			if err := d.Append(ctx, record(model.Buy, "SPOT", 42, 99.5, tc.complete)); err != nil {
				t.Fatalf("append: %v", err)
			}

			executed, avg, resumed, err := d.Restore(ctx, tc.cont, tc.side, tc.market)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resumed != tc.resumed {
				t.Fatalf("resumed = %v, want %v", resumed, tc.resumed)
			}
			if tc.resumed {
				if executed != 42 || avg != 99.5 {
					t.Errorf("恢复进度 (%v, %v), want (42, 99.5)", executed, avg)
				}
			} else {
				if executed != 0 || avg != 0 {
					t.Errorf("应从零开始, got (%v, %v)", executed, avg)
				}
			}
		})
	}
}

func TestRestoreEmpty(t *testing.T) {
	d := newTestDao(t)
	executed, avg, resumed, err := d.Restore(context.Background(), true, model.Buy, "SPOT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed || executed != 0 || avg != 0 {
		t.Errorf("空库应从零开始, got (%v, %v, %v)", executed, avg, resumed)
	}
}
