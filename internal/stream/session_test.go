package stream

import (
	"testing"
	"time"
)

// 从未连上过的会话也能安全关闭
func TestStopBeforeConnect(t *testing.T) {
	s := NewSession(Config{URL: "ws://127.0.0.1:1/never"})
	if err := s.Stop(); err != nil {
		t.Fatalf("未连接时Stop不应报错: %v", err)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want CLOSED", s.State())
	}
}

// Stop幂等，重复调用不报错不死锁
func TestStopIdempotent(t *testing.T) {
	s := NewSession(Config{URL: "ws://127.0.0.1:1/never"})
	s.Start(nil, func([]byte) {})

	if err := s.Stop(); err != nil {
		t.Fatalf("第一次Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("第二次Stop: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Stop后主循环应退出")
	}
}

// 连不上的地址应停留在重连尝试，Stop能打断退避等待
func TestStopInterruptsBackoff(t *testing.T) {
	s := NewSession(Config{URL: "ws://127.0.0.1:1/never"})
	s.Start(nil, func([]byte) {})

	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop被退避等待卡住")
	}
}

func TestStateString(t *testing.T) {
	if Disconnected.String() != "DISCONNECTED" || Closed.String() != "CLOSED" {
		t.Error("状态名不对")
	}
}
