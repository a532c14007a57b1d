package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatsync/internal/util"
)

const amqpExchangePrefix = "docfeed."

// AMQPFeed carries change batches over a RabbitMQ fanout exchange per
// collection. Alternative transport to RedisFeed for deployments that
// already run a broker.
type AMQPFeed struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPFeed dials the broker.
func NewAMQPFeed(url string) (*AMQPFeed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPFeed{conn: conn, ch: ch}, nil
}

func (f *AMQPFeed) exchange(ctx context.Context, ch *amqp.Channel, col string) (string, error) {
	name := amqpExchangePrefix + col
	if err := ch.ExchangeDeclare(name, "fanout", false, true, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange: %w", err)
	}
	return name, nil
}

// Publish fans the batch out to every subscriber of the collection.
func (f *AMQPFeed) Publish(ctx context.Context, col string, batch Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name, err := f.exchange(ctx, f.ch, col)
	if err != nil {
		return err
	}
	if err := f.ch.PublishWithContext(ctx, name, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// Subscribe binds an exclusive auto-deleted queue to the collection's
// exchange and forwards decoded batches.
func (f *AMQPFeed) Subscribe(ctx context.Context, col string) (<-chan Batch, func(), error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	name, err := f.exchange(ctx, ch, col)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	queue, err := ch.QueueDeclare("docfeed-"+util.NewID(), false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", name, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan Batch, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var batch Batch
				if err := json.Unmarshal(d.Body, &batch); err != nil {
					continue
				}
				select {
				case out <- batch:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			_ = ch.Close()
			close(done)
		})
	}
	return out, stop, nil
}

// Close tears down the broker connection.
func (f *AMQPFeed) Close() error {
	return f.conn.Close()
}
