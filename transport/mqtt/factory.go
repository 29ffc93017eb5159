// Package mqtt implements contract.Factory for MQTT 3.1.1 connections
// on top of Eclipse Paho's autopaho connection manager, grounded on the
// teacher's MQTTBroker (same client construction, same wildcard
// fan-out shape — generalized here to one subscription per source
// instead of one per event name).
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/placeholder"
)

// DefaultKeepAlive mirrors the teacher's DefaultMQTTKeepAlive.
const DefaultKeepAlive = 30

// Factory holds one MQTT session for the connection's lifetime, per
// spec.md's clientCount cap of 1 for this protocol.
type Factory struct {
	uri string

	mu       sync.RWMutex
	client   *autopaho.ConnectionManager
	handlers map[string]map[int]chan contract.InboundEnvelope
	nextID   int
}

func New(conn contract.Connection) (*Factory, error) {
	return &Factory{uri: conn.URI, handlers: make(map[string]map[int]chan contract.InboundEnvelope)}, nil
}

func (f *Factory) Dial(ctx context.Context) error {
	serverURL, err := url.Parse(f.uri)

	if err != nil {
		return fmt.Errorf("mqtt: parse uri: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     DefaultKeepAlive,
		CleanStartOnInitialConnection: true,
		ClientConfig: paho.ClientConfig{
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					f.route(pr.Packet)

					return true, nil
				},
			},
		},
	}

	client, err := autopaho.NewConnection(ctx, cfg)

	if err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	return nil
}

// route delivers one incoming publish to every subscriber whose filter
// matches the wire topic, per the MQTT wildcard rules shared with the
// enforcement matcher. A subscriber whose buffer is full loses its
// oldest queued delivery to make room.
func (f *Factory) route(pb *paho.Publish) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for filter, subscribers := range f.handlers {
		if !placeholder.MatchMQTTTopic(filter, pb.Topic) {
			continue
		}

		headers := contract.Headers{}

		if pb.Properties != nil && pb.Properties.ContentType != "" {
			headers[contract.HeaderContentType] = pb.Properties.ContentType
		}

		for _, ch := range subscribers {
			env := contract.InboundEnvelope{Payload: pb.Payload, Headers: headers, Address: pb.Topic, Ack: func() {}}

			select {
			case ch <- env:
			default:
				// buffer full: drop the oldest queued delivery (drop-head)
				select {
				case <-ch:
				default:
				}

				select {
				case ch <- env:
				default:
				}
			}
		}
	}
}

// NewConsumer subscribes to every address (topic filter) in source and
// fans every matching publish into one channel, at the QoS the source
// requires (validated mandatory by the mqtt protocol validator).
func (f *Factory) NewConsumer(ctx context.Context, source contract.Source) (<-chan contract.InboundEnvelope, error) {
	out := make(chan contract.InboundEnvelope, 64)

	qos := byte(0)

	if source.QoS != nil {
		qos = byte(*source.QoS)
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++

	subs := make([]paho.SubscribeOptions, 0, len(source.Addresses))

	for _, address := range source.Addresses {
		if f.handlers[address] == nil {
			f.handlers[address] = make(map[int]chan contract.InboundEnvelope)
		}

		f.handlers[address][id] = out
		subs = append(subs, paho.SubscribeOptions{Topic: address, QoS: qos})
	}
	client := f.client
	f.mu.Unlock()

	if _, err := client.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		return nil, fmt.Errorf("mqtt: subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()

		f.mu.Lock()
		for _, address := range source.Addresses {
			delete(f.handlers[address], id)

			if len(f.handlers[address]) == 0 {
				delete(f.handlers, address)
			}
		}
		f.mu.Unlock()

		close(out)
	}()

	return out, nil
}

type handle struct {
	factory *Factory
	address string
	qos     byte
}

func (h *handle) Send(ctx context.Context, message contract.ExternalMessage) error {
	h.factory.mu.RLock()
	client := h.factory.client
	h.factory.mu.RUnlock()

	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   h.address,
		QoS:     h.qos,
		Payload: message.Bytes,
		Properties: &paho.PublishProperties{
			ContentType: message.ContentType,
		},
	})

	return err
}

func (h *handle) Close() error { return nil }

func (f *Factory) NewPublishHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	return &handle{factory: f, address: address, qos: byte(qos)}, nil
}

func (f *Factory) Close() error {
	f.mu.RLock()
	client := f.client
	f.mu.RUnlock()

	if client == nil {
		return nil
	}

	return client.Disconnect(context.Background())
}
