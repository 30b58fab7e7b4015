// Package alerts surfaces failures that need operator attention, such as a
// mailbox watch that could not be established.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Alert describes one operator-visible failure. Message must not carry secrets.
type Alert struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
	Temporary bool      `json:"temporary"`
	At        time.Time `json:"at"`
}

// Notifier delivers alerts. Implementations must not block the request path
// for long; delivery errors are logged, not returned.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a Alert) {
	log.Printf("[Alert] %s account=%s step=%s temporary=%v: %s", a.Kind, a.AccountID, a.Step, a.Temporary, a.Message)
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) {
	for _, n := range m {
		n.Notify(ctx, a)
	}
}

// AMQPNotifier publishes alerts as JSON to a topic exchange, routed by kind.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	timeout  time.Duration
}

// DialAMQP connects and declares the durable alert exchange.
func DialAMQP(url, exchange string, timeout time.Duration) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, timeout: timeout}, nil
}

// RoutingKey maps an alert kind to its routing key, e.g. "alert.WatchSetupFailed".
func RoutingKey(a Alert) string {
	return "alert." + a.Kind
}

func (n *AMQPNotifier) Notify(ctx context.Context, a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		log.Printf("[Alert] Failed to encode alert: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(a), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.At,
		Body:         body,
	})
	if err != nil {
		log.Printf("[Alert] Failed to publish %s for %s: %v", a.Kind, a.AccountID, err)
	}
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		n.ch.Close()
	}
	return n.conn.Close()
}
