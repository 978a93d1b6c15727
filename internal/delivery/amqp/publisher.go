package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/domain"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/repository"
)

var _ repository.EventPublisher = (*Publisher)(nil)

const (
	exchangeName = "scanorch.outcomes"
	exchangeType = "topic"
	queueName    = "scan_outcomes"
	routingBase  = "scan.outcome"

	// Reconnection parameters
	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second

	publishTimeout = 5 * time.Second
)

// Publisher sends job outcome events to RabbitMQ with publisher confirms.
// A lost connection is re-established in the background; publishes made
// while reconnecting fail fast instead of blocking a worker.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqplib.Connection
	channel *amqplib.Channel
	closed  bool
	closeCh chan struct{}
}

// NewPublisher connects and declares the outcome exchange and queue.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		url:     url,
		logger:  logger,
		closeCh: make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.watch()
	return p, nil
}

// connect establishes the AMQP connection and a confirm-mode channel.
func (p *Publisher) connect() error {
	conn, err := amqplib.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp confirm: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{"x-queue-type": "quorum"},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	if err := ch.QueueBind(queueName, routingBase+".#", exchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue bind: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("AMQP outcome publisher ready", zap.String("exchange", exchangeName))
	return nil
}

// watch reconnects with exponential backoff whenever the connection drops.
func (p *Publisher) watch() {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()

		select {
		case <-p.closeCh:
			return
		case reason, ok := <-conn.NotifyClose(make(chan *amqplib.Error, 1)):
			if !ok {
				return
			}
			p.logger.Warn("AMQP publisher lost connection, reconnecting...", zap.String("reason", reason.Error()))
		}

		p.mu.Lock()
		p.channel = nil
		p.mu.Unlock()

		for attempt := 0; ; attempt++ {
			delay := backoff(attempt)
			select {
			case <-p.closeCh:
				return
			case <-time.After(delay):
			}
			if err := p.connect(); err != nil {
				p.logger.Error("Reconnect failed", zap.Error(err), zap.Duration("retry_in", backoff(attempt+1)))
				continue
			}
			p.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
		float64(maxReconnectDelay),
	))
}

// RoutingKey returns the routing key of an event, e.g. scan.outcome.timed_out.
func RoutingKey(ev domain.OutcomeEvent) string {
	return routingBase + "." + string(ev.Status)
}

// Publish sends one event and waits for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, ev domain.OutcomeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: marshal event: %w", err)
	}

	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("amqp: channel not available (reconnecting)")
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(publishCtx,
		exchangeName,
		RoutingKey(ev),
		false, // mandatory
		false, // immediate
		amqplib.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqplib.Persistent,
			MessageId:    ev.RunID + "/" + ev.RepoID,
			Timestamp:    ev.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	acked, err := dc.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("amqp: publish confirmation (repo_id=%s): %w", ev.RepoID, err)
	}
	if !acked {
		return fmt.Errorf("amqp: broker nacked event (repo_id=%s)", ev.RepoID)
	}

	p.logger.Debug("Published outcome event",
		zap.String("repo_id", ev.RepoID),
		zap.String("status", string(ev.Status)),
	)
	return nil
}

// Close stops reconnecting and closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
