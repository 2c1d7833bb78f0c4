// Package events publishes consent lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/opsgate/opsgate/internal/consent"
)

const (
	consentChangedType    = "opsgate.consent.changed"
	consentChangedSubject = "opsgate.consent.changed"
	eventSource           = "opsgate"
)

type consentChangedEvent struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
	Data   struct {
		UserID    string    `json:"userId"`
		Category  string    `json:"category"`
		Granted   bool      `json:"granted"`
		GrantedAt time.Time `json:"grantedAt"`
	} `json:"data"`
}

// NATSPublisher emits consent change events. Publish failures are logged and
// contained; the consent path never depends on the broker.
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials the broker and returns a publisher.
func Connect(url string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("opsgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{
		conn:   conn,
		logger: logger.With().Str("component", "events").Logger(),
	}, nil
}

// ConsentChanged implements consent.Publisher.
func (p *NATSPublisher) ConsentChanged(_ context.Context, record consent.Record) {
	if p == nil || p.conn == nil {
		return
	}

	event := consentChangedEvent{
		ID:     uuid.NewString(),
		Type:   consentChangedType,
		Source: eventSource,
		Time:   time.Now().UTC(),
	}
	event.Data.UserID = record.UserID
	event.Data.Category = string(record.Category)
	event.Data.Granted = record.Granted
	event.Data.GrantedAt = record.GrantedAt

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("encoding consent event")
		return
	}
	if err := p.conn.Publish(consentChangedSubject, payload); err != nil {
		p.logger.Warn().Err(err).Msg("publishing consent event")
	}
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
