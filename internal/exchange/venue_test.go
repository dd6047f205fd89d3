package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newWsServer(t *testing.T, handler func(*websocket.Conn)) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	return srv, conn
}

// 对端收下连接却不回应答：握手读取要在截止时间内返回，不能永久阻塞
func TestReadAckDeadline(t *testing.T) {
	srv, conn := newWsServer(t, func(c *websocket.Conn) {
		// 只收不发
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := readAck(ctx, conn); err == nil {
		t.Fatal("对端不应答时应返回超时错误")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("应在截止时间附近返回, 实际耗时 %v", elapsed)
	}
}

func TestReadAckDelivers(t *testing.T) {
	ack := `{"event":"login","success":true}`
	srv, conn := newWsServer(t, func(c *websocket.Conn) {
		c.WriteMessage(websocket.TextMessage, []byte(ack))
		time.Sleep(500 * time.Millisecond)
	})
	defer srv.Close()
	defer conn.Close()

	raw, err := readAck(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != ack {
		t.Errorf("raw = %s", raw)
	}
}
