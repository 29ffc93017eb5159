// Package kafka implements contract.Factory for Kafka connections using
// segmentio/kafka-go, grounded on the reader/writer construction and
// context-aware read/write loop shape found in the pack's Kafka
// messaging reference.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/twinmesh/connectivity/contract"
)

// Factory holds the bootstrap-server list for one connection; readers
// and writers are created per source/address since kafka-go scopes
// both to a single topic.
type Factory struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
}

func New(conn contract.Connection) (*Factory, error) {
	return &Factory{
		brokers: strings.Split(conn.URI, ","),
		writers: make(map[string]*kafkago.Writer),
	}, nil
}

func (f *Factory) Dial(ctx context.Context) error {
	return nil
}

// parseAddress splits a "topic" or "topic#partition" address into its
// topic and an optional explicit partition, per spec.md's Kafka
// partition-qualified address grammar.
func parseAddress(address string) (topic string, partition int, explicit bool) {
	topic, partStr, found := strings.Cut(address, "#")

	if !found {
		return address, 0, false
	}

	p, err := strconv.Atoi(partStr)

	if err != nil {
		return address, 0, false
	}

	return topic, p, true
}

func (f *Factory) NewConsumer(ctx context.Context, source contract.Source) (<-chan contract.InboundEnvelope, error) {
	out := make(chan contract.InboundEnvelope)
	var wg sync.WaitGroup

	for _, address := range source.Addresses {
		topic, partition, explicit := parseAddress(address)

		readerCfg := kafkago.ReaderConfig{
			Brokers: f.brokers,
			Topic:   topic,
			GroupID: "",
		}

		if explicit {
			readerCfg.Partition = partition
			readerCfg.GroupID = ""
		} else {
			readerCfg.GroupID = "connectivity"
		}

		reader := kafkago.NewReader(readerCfg)

		wg.Add(1)

		go func(address string, reader *kafkago.Reader) {
			defer wg.Done()
			defer reader.Close()

			for {
				msg, err := reader.FetchMessage(ctx)

				if err != nil {
					return
				}

				headers := make(contract.Headers, len(msg.Headers))

				for _, h := range msg.Headers {
					headers[h.Key] = string(h.Value)
				}

				env := contract.InboundEnvelope{
					Payload: msg.Value,
					Headers: headers,
					Address: address,
					Ack:     func() { _ = reader.CommitMessages(ctx, msg) },
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}(address, reader)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

type handle struct {
	writer *kafkago.Writer
}

func (h *handle) Send(ctx context.Context, message contract.ExternalMessage) error {
	headers := make([]kafkago.Header, 0, len(message.Headers))

	for k, v := range message.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	return h.writer.WriteMessages(ctx, kafkago.Message{
		Value:   message.Bytes,
		Headers: headers,
	})
}

func (h *handle) Close() error { return nil }

func (f *Factory) NewPublishHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	topic, _, _ := parseAddress(address)

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.writers[topic]

	if !ok {
		w = &kafkago.Writer{
			Addr:     kafkago.TCP(f.brokers...),
			Topic:    topic,
			Balancer: &kafkago.LeastBytes{},
		}
		f.writers[topic] = w
	}

	return &handle{writer: w}, nil
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error

	for _, w := range f.writers {
		if cerr := w.Close(); cerr != nil {
			err = fmt.Errorf("kafka: close writer: %w", cerr)
		}
	}

	return err
}
