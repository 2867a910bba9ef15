package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signal-bot/internal/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// orderEvent is the order channel payload on the Bitunix private stream.
type orderEvent struct {
	Channel string `json:"ch"`
	Data    struct {
		Symbol   string `json:"symbol"`
		OrderID  string `json:"orderId"`
		Status   string `json:"status"`
		DealQty  string `json:"dealVolume"`
		AvgPrice string `json:"avgPrice"`
	} `json:"data"`
}

// SubscribeOrderUpdates dials the private stream and forwards order events
// to the callback, reconnecting with exponential backoff until the context
// is cancelled or the returned stop function is called.
func (c *Client) SubscribeOrderUpdates(ctx context.Context, fn func(exchange.OrderUpdate)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		backoff := time.Second
		maxBackoff := 30 * time.Second
		for {
			select {
			case <-streamCtx.Done():
				return
			default:
			}
			if err := c.streamOnce(streamCtx, fn); err != nil && streamCtx.Err() == nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("order stream dropped, reconnecting")
				select {
				case <-time.After(backoff):
				case <-streamCtx.Done():
					return
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}()

	return cancel, nil
}

func (c *Client) streamOnce(ctx context.Context, fn func(exchange.OrderUpdate)) error {
	url := strings.TrimRight(c.wsURL, "/")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	login := map[string]interface{}{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":    c.key,
			"timestamp": ts,
			"nonce":     ts,
			"sign":      Sign(c.secret, ts, c.key, ts),
		}},
	}
	if err := conn.WriteJSON(login); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []map[string]string{{"ch": "order"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	// Ping loop keeps the venue from idling out the connection.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				ping := map[string]interface{}{"op": "ping", "ping": time.Now().Unix()}
				if err := conn.WriteJSON(ping); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		var event orderEvent
		if err := json.Unmarshal(msg, &event); err != nil || event.Channel != "order" {
			continue
		}
		fn(exchange.OrderUpdate{
			Symbol:       event.Data.Symbol,
			OrderID:      event.Data.OrderID,
			Status:       normalizeStatus(event.Data.Status),
			FilledQty:    parseFloat(event.Data.DealQty),
			AveragePrice: parseFloat(event.Data.AvgPrice),
		})
	}
}

func normalizeStatus(s string) exchange.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED", "FILL":
		return exchange.OrderFilled
	case "PART_FILLED", "PARTIALLY_FILLED":
		return exchange.OrderPartiallyFilled
	case "CANCELED", "CANCELLED":
		return exchange.OrderCanceled
	case "EXPIRED":
		return exchange.OrderExpired
	case "REJECTED":
		return exchange.OrderRejected
	default:
		return exchange.OrderNew
	}
}
