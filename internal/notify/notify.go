// Package notify publishes schedule events to an AMQP topic exchange.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RoutingKey is used for every successful, persisted generation.
const RoutingKey = "schedule.generated"

// ScheduleGenerated is the event body.
type ScheduleGenerated struct {
	EventID          string    `json:"event_id"`
	TournamentID     string    `json:"tournament_id"`
	MatchesScheduled int       `json:"matches_scheduled"`
	Provisional      int       `json:"provisional"`
	VenuesUsed       int       `json:"venues_used"`
	DaysUsed         int       `json:"days_used"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewScheduleGenerated builds the event for a successful report.
func NewScheduleGenerated(tournamentID string, r *schedule.Report, now time.Time) ScheduleGenerated {
	ev := ScheduleGenerated{
		EventID:          uuid.New().String(),
		TournamentID:     tournamentID,
		MatchesScheduled: r.MatchesScheduled(),
		OccurredAt:       now,
	}
	if r.Summary != nil {
		ev.Provisional = r.Summary.Provisional
		ev.VenuesUsed = r.Summary.VenuesUsed
		ev.DaysUsed = r.Summary.DaysUsed
	}
	return ev
}

// Config holds the broker settings.
type Config struct {
	URL      string
	Exchange string
}

// ConfigFromEnv reads AMQP_URL and AMQP_EXCHANGE. An empty URL disables
// publishing.
func ConfigFromEnv() Config {
	exchange := os.Getenv("AMQP_EXCHANGE")
	if exchange == "" {
		exchange = "cricsched"
	}
	return Config{URL: os.Getenv("AMQP_URL"), Exchange: exchange}
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connection interface {
	Close() error
}

type dialFunc func(cfg Config) (connection, channel, error)

// Publisher sends events over a single AMQP channel.
type Publisher struct {
	cfg     Config
	logger  *zap.Logger
	dial    dialFunc
	mu      sync.Mutex
	conn    connection
	channel channel
}

// Dial connects to the broker and declares the topic exchange.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	return dialWith(cfg, logger, dialBroker)
}

func dialWith(cfg Config, logger *zap.Logger, dial dialFunc) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{cfg: cfg, logger: logger, dial: dial}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialBroker(cfg Config) (connection, channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	return conn, ch, nil
}

// connect replaces the current connection. Callers hold p.mu, except Dial.
func (p *Publisher) connect() error {
	conn, ch, err := p.dial(p.cfg)
	if err != nil {
		return err
	}
	p.conn, p.channel = conn, ch
	p.logger.Info("connected to AMQP", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// disconnect closes the channel and connection. Errors from a broker that is
// already gone are only logged.
func (p *Publisher) disconnect() error {
	var err error
	if p.channel != nil {
		if cerr := p.channel.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			p.logger.Debug("closing AMQP channel", zap.Error(cerr))
		}
		p.channel = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

// PublishScheduleGenerated sends ev with the schedule.generated routing key,
// reconnecting once if the channel has gone away.
func (p *Publisher) PublishScheduleGenerated(ctx context.Context, ev ScheduleGenerated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}
	if p.channel == nil {
		err = amqp.ErrClosed
	} else {
		err = p.channel.Publish(p.cfg.Exchange, RoutingKey, false, false, msg)
	}
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn("AMQP channel closed, reconnecting")
		if cerr := p.disconnect(); cerr != nil {
			p.logger.Debug("closing stale AMQP connection", zap.Error(cerr))
		}
		if err = p.connect(); err != nil {
			return err
		}
		err = p.channel.Publish(p.cfg.Exchange, RoutingKey, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKey, err)
	}
	p.logger.Debug("published event",
		zap.String("routing_key", RoutingKey),
		zap.String("tournament_id", ev.TournamentID),
		zap.Int("matches", ev.MatchesScheduled))
	return nil
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnect()
}
