// Package events streams settlement results to Kafka for downstream
// consumers (accounting, analytics, notification workers).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// OutcomeEvent is published once per settled request.
type OutcomeEvent struct {
	Type      string `json:"type"` // "outcome"
	EpochID   uint64 `json:"epochId"`
	Request   string `json:"request"`
	Status    string `json:"status"`
	AmountOut int64  `json:"amountOut"`
	Refunded  int64  `json:"refunded"`
}

// EpochEvent summarizes one settled epoch.
type EpochEvent struct {
	Type     string `json:"type"` // "epoch"
	EpochID  uint64 `json:"epochId"`
	ReportID string `json:"reportId"`
	Pairs    int    `json:"pairs"`
	Requests int    `json:"requests"`
}

// Publisher implements engine.EventSink on a kafka topic. Delivery is
// best-effort: a broker failure is logged and settlement proceeds.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// EpochSettled publishes one message per request outcome plus an epoch
// summary, keyed by epoch so a partition preserves epoch order.
func (p *Publisher) EpochSettled(ctx context.Context, plan *engine.SettlementPlan, report *engine.SettlementReport) {
	key := []byte(fmt.Sprintf("epoch:%d", plan.EpochID))

	msgs := make([]kafka.Message, 0, len(report.Outcomes)+1)
	for _, o := range report.Outcomes {
		val, err := json.Marshal(OutcomeEvent{
			Type:      "outcome",
			EpochID:   plan.EpochID,
			Request:   o.Request.Hex(),
			Status:    o.Status.String(),
			AmountOut: o.AmountOut,
			Refunded:  o.Refunded,
		})
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{Key: key, Value: val})
	}

	summary, err := json.Marshal(EpochEvent{
		Type:     "epoch",
		EpochID:  plan.EpochID,
		ReportID: report.ID,
		Pairs:    len(plan.Pairs),
		Requests: len(report.Outcomes),
	})
	if err == nil {
		msgs = append(msgs, kafka.Message{Key: key, Value: summary})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Warnw("kafka_publish_failed", "epoch", plan.EpochID, "err", err)
	}
}
