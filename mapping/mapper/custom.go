package mapper

import (
	"context"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
)

// Custom is the extension point for a host-provided transformer
// (spec.md §4.2: "sandboxed; out of scope here"). This core only needs
// the seam — a real sandboxed implementation (e.g. a JavaScript engine)
// is an external collaborator. The delegate is nil until a host
// registers one via SetDelegate; until then Configure and
// ContentTypeBlacklist succeed with no effect, and every MapInbound and
// MapOutbound call fails with [errUnconfigured].
type Custom struct {
	delegate contract.Mapper
}

func NewCustom() *Custom { return &Custom{} }

// SetDelegate installs the host-supplied transformer this alias should
// delegate to. Intended to be called once during process wiring, before
// any connection using this alias is opened.
func (m *Custom) SetDelegate(delegate contract.Mapper) {
	m.delegate = delegate
}

type errUnconfigured struct{}

func (errUnconfigured) Error() string {
	return "custom mapping not configured: no host transformer registered for this alias"
}

func (m *Custom) Configure(options map[string]string) error {
	if m.delegate == nil {
		return nil
	}

	return m.delegate.Configure(options)
}

func (m *Custom) ContentTypeBlacklist() []string {
	if m.delegate == nil {
		return nil
	}

	return m.delegate.ContentTypeBlacklist()
}

func (m *Custom) MapInbound(ctx context.Context, message contract.ExternalMessage) ([]contract.Signal, error) {
	if m.delegate == nil {
		return nil, fmt.Errorf("custom mapper: %w", errUnconfigured{})
	}

	return m.delegate.MapInbound(ctx, message)
}

func (m *Custom) MapOutbound(ctx context.Context, signal contract.Signal) ([]contract.ExternalMessage, error) {
	if m.delegate == nil {
		return nil, fmt.Errorf("custom mapper: %w", errUnconfigured{})
	}

	return m.delegate.MapOutbound(ctx, signal)
}
