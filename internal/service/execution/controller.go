package execution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"twapexecution/internal/consts"
	"twapexecution/internal/dao"
	"twapexecution/internal/exchange"
	"twapexecution/internal/model"
	"twapexecution/internal/twap"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"
	"twapexecution/pkg/logger"

	"github.com/bwmarrin/snowflake"
)

// 控制器状态机
type Phase int32

const (
	Initializing Phase = iota
	StreamConnected
	SchedulingLoop
	PlacingOrder
	Waiting
	GateBlocked
	Complete
	StoppedByUser
	FatalError
	Closed
)

func (p Phase) String() string {
	return [...]string{
		"INITIALIZING", "STREAM_CONNECTED", "SCHEDULING_LOOP", "PLACING_ORDER",
		"WAITING", "GATE_BLOCKED", "COMPLETE", "STOPPED_BY_USER", "FATAL_ERROR", "CLOSED",
	}[p]
}

// MessageRef 已发出通知的不透明句柄，用于原地编辑
type MessageRef interface{}

// Notifier 通知协作方，发送失败只记日志不影响执行
type Notifier interface {
	Send(ctx context.Context, text string) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
}

// Control 远程控制通道，轮询失败视为没有停止指令
type Control interface {
	StopRequested(ctx context.Context, exchange, market string) bool
}

type Params struct {
	Coin           string
	Qty            float64
	PriceThreshold float64
	Side           model.OrderSide
	// 执行窗口（分钟）与每分钟下单次数
	ExecutionMinutes float64
	FreqPerMinute    float64
	// 是否接续上一次未完成的执行
	Continue bool
	Leverage int
	Account  string
}

// Controller 一次TWAP执行的调度器
// 成交回调和调度循环并发运行，所有可变状态由一把互斥锁保护
type Controller struct {
	venue   exchange.Venue
	store   *dao.ExecutionDao
	notify  Notifier
	control Control
	params  Params

	node *snowflake.Node

	mu        sync.Mutex
	state     model.ExecutionState
	inst      *exchange.Instrument
	phase     Phase
	repeatedN int

	progressMsg MessageRef
	gateMsg     MessageRef

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewController(venue exchange.Venue, store *dao.ExecutionDao, notify Notifier, control Control, params Params) (*Controller, error) {
	if params.Qty <= 0 || params.ExecutionMinutes <= 0 || params.FreqPerMinute <= 0 {
		return nil, errors.New(ecode.InvalidParamErr, "qty/minutes/freq 必须为正")
	}
	if !model.ValidSide(params.Side) {
		return nil, errors.Newf(ecode.InvalidParamErr, "不支持的方向 %q", params.Side)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return &Controller{
		venue:   venue,
		store:   store,
		notify:  notify,
		control: control,
		params:  params,
		node:    node,
		phase:   Initializing,
		stopCh:  make(chan struct{}),
	}, nil
}

// Stop 本地停止（HTTP控制面），幂等
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	old := c.phase
	c.phase = p
	c.mu.Unlock()
	if old != p {
		logger.Info("[Controller] phase", logger.Pair("from", old.String()), logger.Pair("to", p.String()))
	}
}

// Snapshot 状态接口用的只读快照
type Snapshot struct {
	Exchange    string          `json:"exchange"`
	Market      string          `json:"market"`
	Symbol      string          `json:"symbol"`
	Side        model.OrderSide `json:"side"`
	Phase       string          `json:"phase"`
	Qty         float64         `json:"qty"`
	ExecutedQty float64         `json:"executed_qty"`
	AvgPrice    float64         `json:"average_price"`
	Executions  int             `json:"executions"`
	Complete    bool            `json:"complete"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Exchange:    c.venue.Exchange(),
		Market:      c.venue.Market(),
		Symbol:      c.state.Symbol,
		Side:        c.state.Side,
		Phase:       c.phase.String(),
		Qty:         c.state.Qty,
		ExecutedQty: c.state.ExecutedQty,
		AvgPrice:    c.state.AvgPrice,
		Executions:  c.state.Executions,
		Complete:    c.state.Complete,
	}
}

// Run 跑完一整次执行，无论以何种方式退出都会收尾：
// 关数据流、发带手续费修正的最终汇总
func (c *Controller) Run(ctx context.Context) error {
	c.setPhase(Initializing)

	inst, err := c.venue.Init(ctx, c.params.Coin, c.params.Leverage)
	if err != nil {
		c.setPhase(FatalError)
		c.finish(nil)
		return err
	}

	target := c.params.Qty
	if inst.QtyScale > 1 {
		target *= inst.QtyScale
	}

	executed, avg, resumed, err := c.store.Restore(ctx, c.params.Continue, c.params.Side, c.venue.Market())
	if err != nil {
		c.setPhase(FatalError)
		c.finish(nil)
		return err
	}
	if resumed {
		logger.Info("[Controller] 接续上次执行",
			logger.Pair("executed_qty", executed),
			logger.Pair("avg_price", avg))
	}

	c.mu.Lock()
	c.inst = inst
	c.state = model.ExecutionState{
		Exchange:         c.venue.Exchange(),
		Market:           c.venue.Market(),
		Symbol:           inst.Symbol,
		Side:             c.params.Side,
		Qty:              target,
		PriceThreshold:   c.params.PriceThreshold,
		ExecutionMinutes: c.params.ExecutionMinutes,
		FreqPerMinute:    c.params.FreqPerMinute,
		ExecutedQty:      executed,
		AvgPrice:         avg,
	}
	c.mu.Unlock()

	handle, err := c.venue.OpenStream(ctx, inst.Symbol, c.onFill)
	if err != nil {
		c.setPhase(FatalError)
		c.finish(nil)
		return err
	}
	c.setPhase(StreamConnected)

	runErr := c.loop(ctx)
	c.finish(handle)
	return runErr
}

func (c *Controller) loop(ctx context.Context) error {
	interval := time.Duration(60 / c.params.FreqPerMinute * float64(time.Second))

	for {
		c.mu.Lock()
		done := c.state.Complete || c.state.ExecutedQty >= c.state.Qty
		executed, target := c.state.ExecutedQty, c.state.Qty
		threshold := c.state.PriceThreshold
		side := c.state.Side
		c.mu.Unlock()

		if done {
			c.setPhase(Complete)
			return nil
		}

		deadline := time.Now().Add(interval)
		c.setPhase(SchedulingLoop)

		select {
		case <-ctx.Done():
			c.setPhase(StoppedByUser)
			return ctx.Err()
		case <-c.stopCh:
			c.setPhase(StoppedByUser)
			return nil
		default:
		}

		tickCtx, cancel := context.WithTimeout(ctx, consts.TickRequestTimeout)

		// 远程停止指令，拿不到更新不算错
		if c.control != nil && c.control.StopRequested(tickCtx, c.venue.Exchange(), c.venue.Market()) {
			cancel()
			c.setPhase(StoppedByUser)
			return nil
		}

		price, err := c.venue.LastPrice(tickCtx, c.inst.PriceSymbol)
		if err != nil {
			cancel()
			if errors.IsFatal(err) {
				c.setPhase(FatalError)
				return err
			}
			// 询价超时或断连只丢掉本tick，节奏照常走
			logger.Warn("[Controller] 询价失败，跳过本tick", logger.Pair("err", err.Error()))
			c.setPhase(Waiting)
			if err := c.sleepUntil(ctx, deadline); err != nil {
				if err == errStopped {
					return nil
				}
				return err
			}
			continue
		}

		// 价格闸门：买等价格跌破阈值，卖等价格涨破阈值
		enter := true
		if threshold > 0 {
			if side.IsBuy() {
				enter = price <= threshold
			} else {
				enter = price >= threshold
			}
		}

		if !enter {
			c.setPhase(GateBlocked)
			c.notifyGate(tickCtx, price, threshold, side)
		} else {
			plan := twap.NextSlice(executed, target, c.params.ExecutionMinutes, c.params.FreqPerMinute, price, c.inst.Rules)
			if plan.Size <= 0 {
				cancel()
				c.setPhase(Complete)
				return nil
			}
			c.setPhase(PlacingOrder)
			if err := c.place(tickCtx, plan); err != nil {
				cancel()
				c.setPhase(FatalError)
				return err
			}
		}
		cancel()

		c.setPhase(Waiting)
		if err := c.sleepUntil(ctx, deadline); err != nil {
			if err == errStopped {
				return nil
			}
			return err
		}
	}
}

// 固定节奏：睡到本tick的截止时刻，与tick里干了多久无关
func (c *Controller) sleepUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.setPhase(StoppedByUser)
		return ctx.Err()
	case <-c.stopCh:
		c.setPhase(StoppedByUser)
		return errStopped
	case <-timer.C:
		return nil
	}
}

var errStopped = errors.New(ecode.Success, "stopped by user")

func (c *Controller) place(ctx context.Context, plan twap.SlicePlan) error {
	c.mu.Lock()
	c.state.Executions++
	side := c.state.Side
	symbol := c.state.Symbol
	c.mu.Unlock()

	order := &model.Order{
		Symbol:        symbol,
		Side:          side,
		Quantity:      plan.Size,
		ClientOrderId: consts.ClientOrderPrefix + c.node.Generate().String(),
	}
	if plan.Flush {
		logger.Info("[Controller] 余量不足最小下单金额，清尾", logger.Pair("size", plan.Size))
	}

	resp, err := c.venue.PlaceMarketOrder(ctx, order)
	if err == nil && resp != nil && resp.ErrMsg != "" {
		err = errors.Newf(ecode.VenueOrderErr, "交易所拒单: %s", resp.ErrMsg)
	}
	if err != nil {
		// 失败不重试，宁可人工介入也不能冒重复执行的风险
		c.mu.Lock()
		c.state.Executions--
		c.mu.Unlock()
		c.notifyProgress(ctx)
		return errors.Wrap(ecode.VenueOrderErr, "下单失败", err)
	}

	logger.Info("[Controller] 已下单",
		logger.Pair("order_id", resp.OrderId),
		logger.Pair("size", plan.Size),
		logger.Pair("raw", plan.Raw))
	return nil
}

// onFill 成交回调：更新滚动均价、落一条执行记录，必要时推进度通知
// 只认本标的且带数量的成交；只带Final标记的消息（coinbase done）只参与计数
func (c *Controller) onFill(fill *model.Fill) {
	ctx, cancel := context.WithTimeout(context.Background(), consts.TickRequestTimeout)
	defer cancel()

	c.mu.Lock()
	if fill.Qty > 0 && strings.EqualFold(fill.Symbol, c.state.Symbol) {
		avg, total := twap.Fold(c.state.AvgPrice, c.state.ExecutedQty, fill.Qty, fill.Price)
		c.state.AvgPrice = avg
		c.state.ExecutedQty = total
		if c.state.Done(consts.CompleteRoundPlaces) {
			c.state.Complete = true
		}

		record := &model.ExecutionRecord{
			Exchange:    c.state.Exchange,
			Market:      c.state.Market,
			OrderId:     fill.OrderId,
			Time:        fill.Time,
			Symbol:      fill.Symbol,
			Price:       fill.Price,
			Side:        c.state.Side,
			Qty:         fill.Qty,
			ExecutedQty: c.state.ExecutedQty,
			AvgPrice:    c.state.AvgPrice,
			Remaining:   c.state.Remaining(),
			Complete:    c.state.Complete,
		}
		progress := c.progressLocked()
		c.mu.Unlock()

		if err := c.store.Append(ctx, record); err != nil {
			logger.Error("[Controller] 执行记录写入失败", logger.Pair("err", err.Error()))
		}
		logger.Info("[Controller] 成交", logger.Pair("progress", progress))
		c.mu.Lock()
	}

	final := fill.Final
	n := c.state.Executions
	nearlyDone := roundTo(c.state.ExecutedQty, 3) >= c.state.Qty
	c.mu.Unlock()

	if final && (n%consts.NotifyEveryNExecutions == 0 || nearlyDone) {
		c.notifyProgress(ctx)
	}
}

// finish 每条退出路径都走到这里：关数据流、发最终汇总
func (c *Controller) finish(handle exchange.StreamHandle) {
	if handle != nil {
		if err := handle.Stop(); err != nil {
			logger.Warn("[Controller] 数据流关闭出错", logger.Pair("err", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.TickRequestTimeout)
	defer cancel()
	c.notifySummary(ctx)

	c.setPhase(Closed)
}

// 最终汇总按手续费修正：
// NUMERATOR 把数量折减 (1-费率)，DENOMINATOR 把均价上浮/下调费率
func (c *Controller) notifySummary(ctx context.Context) {
	if c.notify == nil {
		return
	}

	c.mu.Lock()
	st := c.state
	inst := c.inst
	c.mu.Unlock()

	var out string
	if inst != nil && inst.FeeMode == exchange.FeeNumerator {
		out = fmt.Sprintf("%.2f/%.2f @ %.8f",
			st.ExecutedQty*(1-inst.Commission),
			st.Qty*(1-inst.Commission),
			st.AvgPrice)
	} else {
		adj := st.AvgPrice
		if inst != nil {
			if st.Side.IsBuy() {
				adj *= 1 + inst.Commission
			} else {
				adj *= 1 - inst.Commission
			}
		}
		out = fmt.Sprintf("%.2f/%.2f @ %.8f", st.ExecutedQty, st.Qty, adj)
	}

	text := "<code>-------------------------\nTWAP Stopped\n-------------------------\n" +
		c.header(st.Executions) + out + "</code>"
	if _, err := c.notify.Send(ctx, text); err != nil {
		logger.Warn("[Controller] 汇总通知发送失败", logger.Pair("err", err.Error()))
	}
}

func (c *Controller) notifyProgress(ctx context.Context) {
	if c.notify == nil {
		return
	}
	c.mu.Lock()
	text := "<code>" + c.header(c.state.Executions) + c.progressLocked() + "</code>"
	ref := c.progressMsg
	c.mu.Unlock()

	if ref != nil {
		if err := c.notify.Edit(ctx, ref, text); err != nil {
			logger.Warn("[Controller] 进度通知编辑失败", logger.Pair("err", err.Error()))
		}
		return
	}
	sent, err := c.notify.Send(ctx, text)
	if err != nil {
		logger.Warn("[Controller] 进度通知发送失败", logger.Pair("err", err.Error()))
		return
	}
	c.mu.Lock()
	c.progressMsg = sent
	c.mu.Unlock()
}

// 闸门通知原地编辑重复次数，避免阻塞期间刷屏
func (c *Controller) notifyGate(ctx context.Context, price, threshold float64, side model.OrderSide) {
	c.mu.Lock()
	c.repeatedN++
	n := c.repeatedN
	var cmp string
	if side.IsBuy() {
		cmp = fmt.Sprintf("Current price %v &#62; %v", price, threshold)
	} else {
		cmp = fmt.Sprintf("Current price %v &#60; %v", price, threshold)
	}
	text := "<code>" + c.headerWith(fmt.Sprintf("repeated %d times", n)) +
		c.progressLocked() + "\n" + cmp + "</code>"
	ref := c.gateMsg
	c.mu.Unlock()

	logger.Info("[Controller] 未达阈值，等待",
		logger.Pair("price", price),
		logger.Pair("threshold", threshold))

	if c.notify == nil {
		return
	}
	if ref != nil {
		if err := c.notify.Edit(ctx, ref, text); err != nil {
			logger.Warn("[Controller] 闸门通知编辑失败", logger.Pair("err", err.Error()))
		}
		return
	}
	sent, err := c.notify.Send(ctx, text)
	if err != nil {
		logger.Warn("[Controller] 闸门通知发送失败", logger.Pair("err", err.Error()))
		return
	}
	c.mu.Lock()
	c.gateMsg = sent
	c.mu.Unlock()
}

// "12.00/100.00 @ 0.12345678"，调用方必须持锁
func (c *Controller) progressLocked() string {
	return fmt.Sprintf("%.2f/%.2f @ %.8f", c.state.ExecutedQty, c.state.Qty, c.state.AvgPrice)
}

func (c *Controller) header(executions int) string {
	return c.headerWith(fmt.Sprintf("executed %d trades", executions))
}

// "Buy Deribit Futures Sub1 executed 3 trades\nBTC-PERPETUAL: "
func (c *Controller) headerWith(action string) string {
	account := " "
	if c.venue.Exchange() == consts.ExchangeDeribit && c.params.Account != "" {
		account = " " + capitalize(c.params.Account) + " "
	}
	symbol := c.params.Coin
	if c.inst != nil {
		symbol = c.inst.Symbol
	}
	return fmt.Sprintf("%s %s %s%s%s\n%s: ",
		capitalize(string(c.params.Side)),
		capitalize(c.venue.Exchange()),
		capitalize(c.venue.Market()),
		account,
		action,
		symbol)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func roundTo(x float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(x*pow) / pow
}
