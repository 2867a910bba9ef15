package binance

import (
	"context"
	"strconv"
	"time"

	"signal-bot/internal/exchange"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
)

const keepaliveInterval = 25 * time.Minute

// SubscribeOrderUpdates opens the user-data stream and forwards order-trade
// updates to the callback. The stream reconnects with a fresh listen key
// until the context is cancelled or the returned stop function is called.
func (c *Client) SubscribeOrderUpdates(ctx context.Context, fn func(exchange.OrderUpdate)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	listenKey, err := c.api.NewStartUserStreamService().Do(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	handler := func(event *futures.WsUserDataEvent) {
		if event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		o := event.OrderTradeUpdate
		fn(exchange.OrderUpdate{
			Symbol:       o.Symbol,
			OrderID:      strconv.FormatInt(o.ID, 10),
			Status:       exchange.OrderStatus(o.Status),
			FilledQty:    parseFloat(o.AccumulatedFilledQty),
			AveragePrice: parseFloat(o.AveragePrice),
		})
	}

	go func() {
		key := listenKey
		backoff := time.Second
		for {
			select {
			case <-streamCtx.Done():
				return
			default:
			}

			doneC, stopC, err := futures.WsUserDataServe(key, handler, func(err error) {
				log.Warn().Err(err).Msg("user-data stream error")
			})
			if err != nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("user-data stream connect failed, retrying")
				select {
				case <-time.After(backoff):
				case <-streamCtx.Done():
					return
				}
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				continue
			}
			backoff = time.Second

			keepalive := time.NewTicker(keepaliveInterval)
		serve:
			for {
				select {
				case <-streamCtx.Done():
					keepalive.Stop()
					close(stopC)
					return
				case <-keepalive.C:
					if err := c.api.NewKeepaliveUserStreamService().ListenKey(key).Do(streamCtx); err != nil {
						log.Warn().Err(err).Msg("listen key keepalive failed")
					}
				case <-doneC:
					keepalive.Stop()
					break serve
				}
			}

			// Stream dropped: refresh the listen key before reconnecting.
			if fresh, err := c.api.NewStartUserStreamService().Do(streamCtx); err == nil {
				key = fresh
			} else {
				log.Warn().Err(err).Msg("listen key refresh failed, reusing previous key")
			}
		}
	}()

	return cancel, nil
}
