package tgbot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"

	"github.com/goccy/go-json"
)

// Bot telegram通知与远程控制通道
// 所有调用都是尽力而为，发送失败由调用方决定是否忽略
type Bot struct {
	token  string
	client *http.Client
}

func New(token string) *Bot {
	return &Bot{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Message 已发送消息的句柄，后续用于原地编辑避免刷屏
type Message struct {
	ChatId    int64
	MessageId int64
}

type Update struct {
	UpdateId int64
	Text     string
}

type apiResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
}

func (b *Bot) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	reqUrl := fmt.Sprintf("https://api.telegram.org/bot%s/%s", b.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqUrl, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ecode.ControlChannelErr, "telegram request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(ecode.ControlChannelErr, "telegram response malformed", err)
	}
	if !out.Ok {
		return nil, errors.Newf(ecode.ControlChannelErr, "telegram %s rejected: %s", method, body)
	}
	return out.Result, nil
}

// SendMessage 以HTML模式发送，返回消息句柄供EditMessage用
func (b *Bot) SendMessage(ctx context.Context, chatId int64, text string) (*Message, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatId, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")

	result, err := b.call(ctx, "sendMessage", params)
	if err != nil {
		return nil, err
	}

	var msg struct {
		MessageId int64 `json:"message_id"`
		Chat      struct {
			Id int64 `json:"id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, err
	}
	return &Message{ChatId: msg.Chat.Id, MessageId: msg.MessageId}, nil
}

func (b *Bot) EditMessage(ctx context.Context, msg *Message, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(msg.ChatId, 10))
	params.Set("message_id", strconv.FormatInt(msg.MessageId, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")

	_, err := b.call(ctx, "editMessageText", params)
	return err
}

// GetUpdates offset传上一次看到的update_id可以把旧消息挤掉
func (b *Bot) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}

	result, err := b.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		UpdateId int64 `json:"update_id"`
		Message  struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		updates = append(updates, Update{UpdateId: u.UpdateId, Text: u.Message.Text})
	}
	return updates, nil
}
