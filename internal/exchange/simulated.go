package exchange

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"twapexecution/internal/model"
	"twapexecution/internal/twap"

	"github.com/google/uuid"
)

// Simulated 模拟交易所，下单立即按本地价格全量成交并推回调
// 联调和paper模式用，不发任何真实请求
type Simulated struct {
	exchange   string
	market     string
	precision  int
	commission float64

	mu     sync.Mutex
	price  float64
	onFill func(*model.Fill)
	orders map[string]*model.Order
}

func NewSimulated(exchange, market string, price float64, precision int, commission float64) *Simulated {
	return &Simulated{
		exchange:   strings.ToUpper(exchange),
		market:     strings.ToUpper(market),
		price:      price,
		precision:  precision,
		commission: commission,
		orders:     make(map[string]*model.Order),
	}
}

func (s *Simulated) Exchange() string { return s.exchange }
func (s *Simulated) Market() string   { return s.market }

func (s *Simulated) Init(ctx context.Context, coin string, leverage int) (*Instrument, error) {
	coin = strings.ToUpper(coin)
	return &Instrument{
		Symbol:      coin,
		PriceSymbol: coin,
		Precision:   s.precision,
		Commission:  s.commission,
		FeeMode:     FeeDenominator,
		QtyScale:    1,
		Rules:       twap.SizeRules{Precision: s.precision},
	}, nil
}

// 返回本地价格并做±0.5%的小幅浮动
func (s *Simulated) LastPrice(ctx context.Context, priceSymbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fluctuation := (rand.Float64()*0.01 - 0.005) * s.price
	s.price += fluctuation
	return s.price, nil
}

func (s *Simulated) PlaceMarketOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	s.mu.Lock()
	orderID := uuid.NewString()
	s.orders[orderID] = order
	price := s.price
	onFill := s.onFill
	s.mu.Unlock()

	if onFill != nil {
		onFill(&model.Fill{
			OrderId: orderID,
			Symbol:  order.Symbol,
			Price:   price,
			Qty:     order.Quantity,
			Side:    order.Side,
			Time:    time.Now(),
			Final:   true,
		})
	}

	return &model.OrderResponse{OrderId: orderID}, nil
}

func (s *Simulated) OpenStream(ctx context.Context, symbol string, onFill func(*model.Fill)) (StreamHandle, error) {
	s.mu.Lock()
	s.onFill = onFill
	s.mu.Unlock()
	return simulatedStream{}, nil
}

type simulatedStream struct{}

func (simulatedStream) Stop() error { return nil }
