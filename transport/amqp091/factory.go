// Package amqp091 implements contract.Factory for RabbitMQ AMQP 0.9.1
// connections, grounded on the teacher's AMQPBroker: one shared
// connection, a dedicated publish channel, and one channel per
// consumer binding against a topic exchange.
package amqp091

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/twinmesh/connectivity/contract"
)

// DefaultExchange mirrors the teacher's DefaultAMQPExchange, renamed to
// this domain's own default topic exchange.
const DefaultExchange = "connectivity.events"

// Factory dials one AMQP 0.9.1 broker connection and serves every
// source/target of one connection generation from it.
type Factory struct {
	uri      string
	exchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
}

func New(conn contract.Connection) (*Factory, error) {
	return &Factory{uri: conn.URI, exchange: DefaultExchange}, nil
}

func (f *Factory) Dial(ctx context.Context) error {
	conn, err := amqp.DialConfig(f.uri, amqp.Config{})

	if err != nil {
		return fmt.Errorf("amqp091: dial: %w", err)
	}

	pubCh, err := conn.Channel()

	if err != nil {
		conn.Close()

		return fmt.Errorf("amqp091: open publish channel: %w", err)
	}

	if err := pubCh.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		pubCh.Close()
		conn.Close()

		return fmt.Errorf("amqp091: declare exchange: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.pubCh = pubCh
	f.mu.Unlock()

	return nil
}

// NewConsumer opens one exclusive, auto-delete queue per address bound
// to the topic exchange, fanning every address's deliveries into one
// InboundEnvelope channel for this source.
func (f *Factory) NewConsumer(ctx context.Context, source contract.Source) (<-chan contract.InboundEnvelope, error) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	ch, err := conn.Channel()

	if err != nil {
		return nil, fmt.Errorf("amqp091: open consume channel: %w", err)
	}

	out := make(chan contract.InboundEnvelope)
	var wg sync.WaitGroup

	for _, address := range source.Addresses {
		queue, err := ch.QueueDeclare("", false, true, true, false, nil)

		if err != nil {
			ch.Close()

			return nil, fmt.Errorf("amqp091: declare queue for %q: %w", address, err)
		}

		if err := ch.QueueBind(queue.Name, address, f.exchange, false, nil); err != nil {
			ch.Close()

			return nil, fmt.Errorf("amqp091: bind queue for %q: %w", address, err)
		}

		deliveries, err := ch.ConsumeWithContext(ctx, queue.Name, "", false, true, false, false, nil)

		if err != nil {
			ch.Close()

			return nil, fmt.Errorf("amqp091: consume %q: %w", address, err)
		}

		wg.Add(1)

		go func(address string, deliveries <-chan amqp.Delivery) {
			defer wg.Done()

			for d := range deliveries {
				headers := make(contract.Headers, len(d.Headers)+1)

				for k, v := range d.Headers {
					headers[k] = fmt.Sprint(v)
				}

				if d.ContentType != "" {
					headers[contract.HeaderContentType] = d.ContentType
				}

				env := contract.InboundEnvelope{
					Payload: d.Body,
					Headers: headers,
					Address: address,
					Ack:     func() { _ = d.Ack(false) },
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}(address, deliveries)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()

	return out, nil
}

// handle publishes to one resolved routing key over the factory's
// shared publish channel; amqp091-go channels are not safe for
// concurrent Publish calls, so every handle serializes through f.mu.
type handle struct {
	factory *Factory
	address string
}

func (h *handle) Send(ctx context.Context, message contract.ExternalMessage) error {
	h.factory.mu.Lock()
	defer h.factory.mu.Unlock()

	headers := make(amqp.Table, len(message.Headers))

	for k, v := range message.Headers {
		headers[k] = v
	}

	return h.factory.pubCh.PublishWithContext(ctx, h.factory.exchange, h.address, false, false, amqp.Publishing{
		ContentType: message.ContentType,
		Body:        message.Bytes,
		Headers:     headers,
	})
}

func (h *handle) Close() error { return nil }

func (f *Factory) NewPublishHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	return &handle{factory: f, address: address}, nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pubCh != nil {
		_ = f.pubCh.Close()
	}

	if f.conn != nil {
		return f.conn.Close()
	}

	return nil
}
