// Package amqp10 implements contract.Factory for AMQP 1.0 connections
// on top of Azure/go-amqp, grounded on the session/sender/receiver
// pattern shown by the pack's amqp-1.0 transport reference
// (amenzhinsky/iothub) and the vendored Azure/go-amqp message type
// from the keda reference.
package amqp10

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/twinmesh/connectivity/contract"
)

// Factory holds one AMQP 1.0 connection and session for the
// connection's lifetime.
type Factory struct {
	uri string

	mu      sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
}

func New(conn contract.Connection) (*Factory, error) {
	return &Factory{uri: conn.URI}, nil
}

func (f *Factory) Dial(ctx context.Context) error {
	conn, err := amqp.Dial(ctx, f.uri, nil)

	if err != nil {
		return fmt.Errorf("amqp10: dial: %w", err)
	}

	session, err := conn.NewSession(ctx, nil)

	if err != nil {
		conn.Close()

		return fmt.Errorf("amqp10: open session: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.session = session
	f.mu.Unlock()

	return nil
}

// NewConsumer opens one receiver link per address and fans every
// message into one channel for this source.
func (f *Factory) NewConsumer(ctx context.Context, source contract.Source) (<-chan contract.InboundEnvelope, error) {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()

	out := make(chan contract.InboundEnvelope)
	var wg sync.WaitGroup

	for _, address := range source.Addresses {
		receiver, err := session.NewReceiver(ctx, address, nil)

		if err != nil {
			return nil, fmt.Errorf("amqp10: open receiver for %q: %w", address, err)
		}

		wg.Add(1)

		go func(address string, receiver *amqp.Receiver) {
			defer wg.Done()
			defer receiver.Close(context.Background())

			for {
				msg, err := receiver.Receive(ctx, nil)

				if err != nil {
					return
				}

				headers := make(contract.Headers, len(msg.ApplicationProperties))

				for k, v := range msg.ApplicationProperties {
					headers[k] = fmt.Sprint(v)
				}

				var payload []byte

				if len(msg.Data) > 0 {
					payload = msg.Data[0]
				}

				env := contract.InboundEnvelope{
					Payload: payload,
					Headers: headers,
					Address: address,
					Ack:     func() { _ = receiver.AcceptMessage(context.Background(), msg) },
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}(address, receiver)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

type handle struct {
	sender *amqp.Sender
}

func (h *handle) Send(ctx context.Context, message contract.ExternalMessage) error {
	msg := amqp.NewMessage(message.Bytes)

	if len(message.Headers) > 0 {
		msg.ApplicationProperties = make(map[string]any, len(message.Headers))

		for k, v := range message.Headers {
			msg.ApplicationProperties[k] = v
		}
	}

	return h.sender.Send(ctx, msg, nil)
}

func (h *handle) Close() error {
	return h.sender.Close(context.Background())
}

func (f *Factory) NewPublishHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()

	sender, err := session.NewSender(ctx, address, nil)

	if err != nil {
		return nil, fmt.Errorf("amqp10: open sender for %q: %w", address, err)
	}

	return &handle{sender: sender}, nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return f.conn.Close()
	}

	return nil
}
