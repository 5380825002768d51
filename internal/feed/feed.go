package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/internal/services"
)

var feedLog = logrus.WithField("component", "price_feed")

// reconnectDelay 断线重连间隔
const reconnectDelay = 5 * time.Second

// priceUpdate 参考价推送消息
type priceUpdate struct {
	BaseToken  string  `json:"baseToken"`
	QuoteToken string  `json:"quoteToken"`
	Price      float64 `json:"price"`
}

// Client 外部参考价 websocket 客户端
// 收到的每条价格推送都转成订单服务的 UpdateMarketPrice 调用。
type Client struct {
	url string
	svc *services.OrderService
}

// NewClient 创建参考价客户端
func NewClient(url string, svc *services.OrderService) *Client {
	return &Client{url: url, svc: svc}
}

// Run 带重连的消费循环（阻塞直到 ctx 取消）
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			feedLog.WithError(err).Warn("feed disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	feedLog.WithField("url", c.url).Info("feed connected")

	// ctx 取消时主动断开，解除 ReadMessage 阻塞
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var update priceUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			feedLog.WithError(err).Debug("skip malformed feed message")
			continue
		}
		if update.Price <= 0 || update.BaseToken == "" || update.QuoteToken == "" {
			continue
		}
		if _, err := c.svc.UpdateMarketPrice(ctx, update.BaseToken, update.QuoteToken, update.Price); err != nil {
			feedLog.WithError(err).Warn("apply feed price failed")
		}
	}
}
