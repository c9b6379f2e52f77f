// Package telemetry publishes live rep and session events to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/claude/repcam/internal/detector"
)

const publishTimeout = 2 * time.Second

// Config selects the broker and topic layout.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// RepMessage is published on <prefix>/sessions/<id>/reps.
type RepMessage struct {
	SessionID  string    `json:"session_id"`
	Technique  string    `json:"technique"`
	Count      int       `json:"count"`
	OccurredAt time.Time `json:"occurred_at"`
	PeakAngle  *float64  `json:"peak_angle,omitempty"`
}

// StateMessage is published on <prefix>/sessions/<id>/state.
type StateMessage struct {
	SessionID string    `json:"session_id"`
	Technique string    `json:"technique"`
	State     string    `json:"state"`
	Reps      int       `json:"reps"`
	Local     bool      `json:"local"`
	At        time.Time `json:"at"`
}

// Stats counts publish outcomes.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Publisher sends fire-and-forget JSON messages. Publish calls never block on
// the broker.
type Publisher struct {
	cfg    Config
	log    *slog.Logger
	client mqtt.Client

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// NewPublisher creates a publisher; call Connect before publishing.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	return newPublisher(cfg, mqtt.NewClient(opts), logger)
}

func newPublisher(cfg Config, client mqtt.Client, logger *slog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "repcam"
	}
	return &Publisher{cfg: cfg, log: logger, client: client}
}

// Connect connects to the broker, waiting at most until ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	p.log.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// PublishRep announces a completed rep with the running count.
func (p *Publisher) PublishRep(ev detector.RepEvent, count int) {
	p.publish(p.topic(ev.SessionID, "reps"), RepMessage{
		SessionID:  ev.SessionID,
		Technique:  ev.Technique,
		Count:      count,
		OccurredAt: ev.OccurredAt,
		PeakAngle:  ev.PeakAngle,
	})
}

// PublishState announces a session lifecycle change.
func (p *Publisher) PublishState(msg StateMessage) {
	p.publish(p.topic(msg.SessionID, "state"), msg)
}

func (p *Publisher) topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/sessions/%s/%s", p.cfg.TopicPrefix, sessionID, kind)
}

func (p *Publisher) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.countError()
		p.log.Error("marshaling mqtt payload", "topic", topic, "error", err)
		return
	}

	if !p.client.IsConnected() {
		p.countError()
		p.log.Debug("mqtt not connected, dropping message", "topic", topic)
		return
	}

	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.countError()
			p.log.Warn("mqtt publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.countError()
			p.log.Warn("mqtt publish failed", "topic", topic, "error", err)
			return
		}
		p.mu.Lock()
		p.published++
		p.mu.Unlock()
	}()
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats returns publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Connected: p.client.IsConnected(),
		Published: p.published,
		Errors:    p.errors,
	}
}

// Disconnect closes the broker connection.
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("mqtt disconnected")
	}
}
