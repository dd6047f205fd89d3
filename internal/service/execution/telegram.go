package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"twapexecution/pkg/logger"
	"twapexecution/pkg/tgbot"
)

// TelegramGateway 把telegram同时用作通知出口和远程控制入口
// 在群里发 "/stop <exchange> <market>"（小写）停掉对应的执行
type TelegramGateway struct {
	bot    *tgbot.Bot
	chatId int64

	mu     sync.Mutex
	offset int64
}

func NewTelegramGateway(bot *tgbot.Bot, chatId int64) *TelegramGateway {
	return &TelegramGateway{bot: bot, chatId: chatId}
}

func (g *TelegramGateway) Send(ctx context.Context, text string) (MessageRef, error) {
	return g.bot.SendMessage(ctx, g.chatId, text)
}

func (g *TelegramGateway) Edit(ctx context.Context, ref MessageRef, text string) error {
	msg, ok := ref.(*tgbot.Message)
	if !ok {
		return g.editFallback(ctx, text)
	}
	return g.bot.EditMessage(ctx, msg, text)
}

func (g *TelegramGateway) editFallback(ctx context.Context, text string) error {
	_, err := g.bot.SendMessage(ctx, g.chatId, text)
	return err
}

// StopRequested 只看最新一条消息，用offset把旧更新挤掉
// 拿不到更新或消息格式不对都不算停止指令
func (g *TelegramGateway) StopRequested(ctx context.Context, exchange, market string) bool {
	g.mu.Lock()
	offset := g.offset
	g.mu.Unlock()

	updates, err := g.bot.GetUpdates(ctx, offset)
	if err != nil {
		logger.Warn("[Telegram] 拉取更新失败", logger.Pair("err", err.Error()))
		return false
	}
	if len(updates) == 0 {
		return false
	}

	last := updates[len(updates)-1]
	g.mu.Lock()
	g.offset = last.UpdateId
	g.mu.Unlock()

	token := fmt.Sprintf("/stop %s %s", strings.ToLower(exchange), strings.ToLower(market))
	return strings.TrimSpace(last.Text) == token
}
