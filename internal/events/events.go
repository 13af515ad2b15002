// Package events publishes settlement events to Kafka for downstream
// consumers (reporting, reconciliation, notifications). Publishing is
// best-effort: a broker outage must never roll back a settlement that
// already committed, so failures are logged and dropped.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topic is the settlement events topic.
const Topic = "settlement.events"

// WagerSettled is emitted once per wager that reaches a terminal outcome.
type WagerSettled struct {
	WagerID      string `json:"wagerId"`
	BettorID     string `json:"bettorId"`
	MarketID     string `json:"marketId"`
	Mechanic     string `json:"mechanic"`
	Outcome      string `json:"outcome"`
	Payout       int64  `json:"payout"`
	ResolvedOdds int64  `json:"resolvedOdds"`
	TsUnixMs     int64  `json:"tsUnixMs"`
}

// MarketResulted is emitted when a market transitions to resulted.
type MarketResulted struct {
	MarketID      string `json:"marketId"`
	ClosingResult string `json:"closingResult"`
	SettledCount  int    `json:"settledCount"`
	CreditedTotal int64  `json:"creditedTotal"`
	TsUnixMs      int64  `json:"tsUnixMs"`
}

// Publisher writes settlement events to Kafka. A nil Publisher is safe
// to call and publishes nothing.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishWagerSettled emits a WagerSettled event keyed by market ID so
// one market's settlements stay ordered within a partition.
func (p *Publisher) PublishWagerSettled(ctx context.Context, e WagerSettled) {
	if p == nil {
		return
	}
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, e.MarketID, "wager_settled", e)
}

// PublishMarketResulted emits a MarketResulted event.
func (p *Publisher) PublishMarketResulted(ctx context.Context, e MarketResulted) {
	if p == nil {
		return
	}
	e.TsUnixMs = time.Now().UnixMilli()
	p.publish(ctx, e.MarketID, "market_resulted", e)
}

func (p *Publisher) publish(ctx context.Context, key, eventType string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	})
	if err != nil {
		slog.Warn("events: publish failed", "type", eventType, "key", key, "err", err)
	}
}
