// Package httppush implements contract.Factory for HTTP push
// connections: a thin request/response protocol, not a broker client,
// so stdlib net/http is the idiomatic choice (see DESIGN.md) — the
// same package the teacher's atlas.Atlas uses for its own HTTP
// surface.
package httppush

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/twinmesh/connectivity/contract"
)

// Factory holds the shared http.Client and base URI for one
// connection; http-push connections have no sources (spec.md), only
// targets.
type Factory struct {
	baseURI string
	client  *http.Client
}

func New(conn contract.Connection) (*Factory, error) {
	return &Factory{baseURI: conn.URI, client: &http.Client{}}, nil
}

func (f *Factory) Dial(ctx context.Context) error { return nil }

func (f *Factory) NewConsumer(ctx context.Context, source contract.Source) (<-chan contract.InboundEnvelope, error) {
	return nil, fmt.Errorf("http-push: connections have no sources")
}

type handle struct {
	factory *Factory
	address string
}

func (h *handle) Send(ctx context.Context, message contract.ExternalMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.factory.baseURI+h.address, bytes.NewReader(message.Bytes))

	if err != nil {
		return fmt.Errorf("http-push: build request: %w", err)
	}

	if message.ContentType != "" {
		req.Header.Set("Content-Type", message.ContentType)
	}

	for k, v := range message.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.factory.client.Do(req)

	if err != nil {
		return fmt.Errorf("http-push: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http-push: server returned %d", resp.StatusCode)
	}

	return nil
}

func (h *handle) Close() error { return nil }

func (f *Factory) NewPublishHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	return &handle{factory: f, address: address}, nil
}

func (f *Factory) Close() error {
	f.client.CloseIdleConnections()

	return nil
}
