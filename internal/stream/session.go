package stream

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"twapexecution/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
)

// 会话状态机
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Subscribing
	Live
	Reconnecting
	Closing
	Closed
)

func (s State) String() string {
	return [...]string{
		"DISCONNECTED", "CONNECTING", "AUTHENTICATING", "SUBSCRIBING",
		"LIVE", "RECONNECTING", "CLOSING", "CLOSED",
	}[s]
}

// Directive 一条订阅指令，自带退订报文，断开时原样反向发回去
type Directive struct {
	Sub   interface{}
	Unsub interface{}
}

type Config struct {
	URL string
	// 连接建立后、发订阅前执行的登录步骤（okex登录、deribit auth），可为nil
	Authenticate func(ctx context.Context, conn *websocket.Conn) error
	// 周期性凭证续期（binance listen key），失败只记日志，下个周期再试
	Keepalive      func(ctx context.Context) error
	KeepaliveEvery time.Duration
}

// Session 维护一条到交易所的长连接：连接、登录、订阅、断线重连、退订关闭
// 每个(交易所,账户)一条。所有入站消息原样交给注册的回调，回调端自行过滤ack等噪音。
//
// 已知并接受的缺口：重连窗口内交易所推出的消息会丢失，本会话不做REST回补。
type Session struct {
	cfg        Config
	directives []Directive
	onMessage  func(raw []byte)

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSession(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		state:  Disconnected,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start 启动会话，消息只会通过 onMessage 回调送出
func (s *Session) Start(directives []Directive, onMessage func(raw []byte)) {
	s.startOnce.Do(func() {
		s.directives = directives
		s.onMessage = onMessage

		go s.run()

		if s.cfg.Keepalive != nil && s.cfg.KeepaliveEvery > 0 {
			go s.keepaliveLoop()
		}
	})
}

// 连接/重连主循环
func (s *Session) run() {
	defer close(s.done)

	attempt := 0
	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(Connecting)
		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.cfg.URL, nil)
		if err != nil {
			attempt++
			logger.Warn("[Stream] dial failed",
				logger.Pair("url", s.cfg.URL),
				logger.Pair("attempt", attempt),
				logger.Pair("err", err.Error()))
			s.sleepBackoff(attempt)
			continue
		}

		if s.cfg.Authenticate != nil {
			s.setState(Authenticating)
			if err := s.cfg.Authenticate(s.ctx, conn); err != nil {
				logger.Warn("[Stream] authenticate failed", logger.Pair("err", err.Error()))
				_ = conn.Close()
				attempt++
				s.sleepBackoff(attempt)
				continue
			}
		}

		// 按序把全部订阅指令发出去，不等ack
		s.setState(Subscribing)
		if err := s.subscribeAll(conn); err != nil {
			logger.Warn("[Stream] subscribe failed", logger.Pair("err", err.Error()))
			_ = conn.Close()
			attempt++
			s.sleepBackoff(attempt)
			continue
		}

		s.mu.Lock()
		if s.state == Closing || s.state == Closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.state = Live
		s.mu.Unlock()

		attempt = 0
		logger.Info("[Stream] live", logger.Pair("url", s.cfg.URL))

		err = s.readLoop(conn)

		s.mu.Lock()
		closing := s.state == Closing || s.state == Closed
		s.conn = nil
		if !closing {
			s.state = Reconnecting
		}
		s.mu.Unlock()

		_ = conn.Close()
		if closing {
			return
		}

		// 掉线期间在途的消息会丢，这是接受的缺口
		logger.Warn("[Stream] connection lost, reconnecting", logger.Pair("err", errString(err)))
		attempt++
		s.sleepBackoff(attempt)
	}
}

func (s *Session) subscribeAll(conn *websocket.Conn) error {
	for _, d := range s.directives {
		if err := conn.WriteJSON(d.Sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.onMessage != nil {
			s.onMessage(raw)
		}
	}
}

func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(s.cfg.KeepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.cfg.Keepalive(s.ctx); err != nil {
				// 续期失败不终止会话，下个周期重试
				logger.Warn("[Stream] keepalive failed", logger.Pair("err", err.Error()))
			} else {
				logger.Info("[Stream] keepalive ok")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop 幂等关闭：先逐条发退订，再断开连接
// 从未连上过也可以安全调用
func (s *Session) Stop() error {
	var errs error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = Closing
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			for _, d := range s.directives {
				if d.Unsub == nil {
					continue
				}
				if err := conn.WriteJSON(d.Unsub); err != nil {
					errs = multierr.Append(errs, err)
				}
			}
			if err := conn.Close(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		s.cancel()
		s.setState(Closed)
	})
	return errs
}

// Done 会话主循环退出后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// 带抖动的指数退避，最长5秒
func (s *Session) sleepBackoff(attempt int) {
	wait := 250 * time.Millisecond
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= 5*time.Second {
			wait = 5 * time.Second
			break
		}
	}
	wait += time.Duration(rand.Int63n(int64(wait) / 5))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
	case <-timer.C:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
