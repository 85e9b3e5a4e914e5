// Package publisher fans applied analysis results out to RabbitMQ.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

const (
	queueSize      = 64
	publishTimeout = 5 * time.Second
)

// Sink receives every result a pipeline applies. Publish never blocks the
// caller and never reports failure back to it.
type Sink interface {
	Publish(sessionID, pipeline string, result *models.AnalysisResult)
	Close() error
}

// Nop discards everything. Used when publishing is disabled.
type Nop struct{}

func (Nop) Publish(string, string, *models.AnalysisResult) {}
func (Nop) Close() error                                   { return nil }

// Message is the JSON body of a published result.
type Message struct {
	SessionID   string                 `json:"session_id"`
	Pipeline    string                 `json:"pipeline"`
	Result      *models.AnalysisResult `json:"result"`
	PublishedAt time.Time              `json:"published_at"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes results from a single background worker.
type RabbitPublisher struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	logger     hclog.Logger

	queue     chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New returns a RabbitPublisher when RABBITMQ_ENABLED is set, Nop otherwise.
func New(cfg *config.Config, logger hclog.Logger) (Sink, error) {
	if !cfg.RabbitMQEnabled {
		return Nop{}, nil
	}
	logger = logger.Named("publisher")

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.RabbitMQExchange, // name
		"topic",              // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ initialized", "exchange", cfg.RabbitMQExchange, "routing_key", cfg.RabbitMQRoutingKey)

	p := newRabbitPublisher(ch, cfg.RabbitMQExchange, cfg.RabbitMQRoutingKey, logger)
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch channel, exchange, routingKey string, logger hclog.Logger) *RabbitPublisher {
	p := &RabbitPublisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
		queue:      make(chan Message, queueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Publish queues result for delivery. A full queue drops the message.
func (p *RabbitPublisher) Publish(sessionID, pipeline string, result *models.AnalysisResult) {
	if result == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	msg := Message{SessionID: sessionID, Pipeline: pipeline, Result: result, PublishedAt: time.Now()}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("publish queue full, dropping result", "session", sessionID, "request", result.RequestID)
	}
}

func (p *RabbitPublisher) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		if err := p.send(msg); err != nil {
			p.logger.Error("failed to publish result", "session", msg.SessionID, "request", msg.Result.RequestID, "error", err)
			continue
		}
		p.logger.Debug("published result", "session", msg.SessionID, "request", msg.Result.RequestID)
	}
}

func (p *RabbitPublisher) send(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.Result.RequestID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.PublishedAt,
		},
	)
}

// Close drains queued messages and closes the connection.
func (p *RabbitPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
		err = p.ch.Close()
		if p.conn != nil {
			if cerr := p.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
