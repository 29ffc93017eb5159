package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/placeholder"
	"github.com/twinmesh/connectivity/problem"
)

// Limits bounds the number of signals/messages one inbound or outbound
// message may expand into, per spec.md §4.2/§4.4.
type Limits struct {
	MaxMappedInboundMessages  int
	MaxMappedOutboundMessages int
}

// DefaultLimits mirrors a conservative production default; 0 disables
// the corresponding limit.
var DefaultLimits = Limits{MaxMappedInboundMessages: 100, MaxMappedOutboundMessages: 100}

// Processor orchestrates header mapping, payload-mapper fan-out,
// enforcement, authorization-context and address placeholder
// resolution between external messages and internal signals.
type Processor struct {
	registry       *Registry
	limits         Limits
	connectionType contract.ConnectionType
	logger         *slog.Logger
}

func NewProcessor(registry *Registry, limits Limits, connectionType contract.ConnectionType, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{registry: registry, limits: limits, connectionType: connectionType, logger: logger}
}

// InboundResult separates signals bound for the internal bus from
// error-responses that must be routed back outbound (enforcement
// rejection). A mapper whose MapInbound fails is logged and skipped;
// its failure produces no error-response.
type InboundResult struct {
	Signals        []contract.Signal
	ErrorResponses []contract.Signal
}

// ProcessInbound runs the full inbound pipeline of spec.md §4.4 for one
// external message received on the given source.
func (p *Processor) ProcessInbound(ctx context.Context, source contract.Source, message contract.ExternalMessage) (InboundResult, error) {
	correlationID, hadCorrelationID := message.Headers[contract.HeaderCorrelationID]

	if !hadCorrelationID || correlationID == "" {
		correlationID = uuid.NewString()
	}

	headerResolvers := placeholder.New(
		placeholder.HeaderNamespace(message.Headers),
		placeholder.SourceNamespace(message.SourceAddress),
	)

	mappers, err := p.registry.Resolve(source.PayloadMapping)

	if err != nil {
		return InboundResult{}, err
	}

	headerRules := HeaderMapping(source.HeaderMapping)

	var result InboundResult

	for _, named := range mappers {
		if contentTypeBlacklisted(named.Mapper.ContentTypeBlacklist(), message.ContentType) {
			continue
		}

		signals, err := named.Mapper.MapInbound(ctx, message)

		if err != nil {
			p.logger.Warn("inbound payload mapping failed", "mapper", named.Alias, "source", message.SourceAddress, "err", err)

			continue
		}

		if p.limits.MaxMappedInboundMessages > 0 && len(signals) > p.limits.MaxMappedInboundMessages {
			return InboundResult{}, &problem.MessageMappingFailed{
				Mapper: named.Alias,
				Reason: fmt.Sprintf("mapper produced %d signals, exceeding limit of %d", len(signals), p.limits.MaxMappedInboundMessages),
			}
		}

		for _, signal := range signals {
			signal.Headers = signal.Headers.Clone()

			if signal.Headers == nil {
				signal.Headers = contract.Headers{}
			}

			signal.Headers[contract.HeaderCorrelationID] = correlationID
			signal.Headers[contract.HeaderInboundMapper] = named.Alias

			if replyTo, ok := message.Headers[contract.HeaderReplyTo]; ok {
				signal.Headers[contract.HeaderReplyTo] = replyTo
			}

			signal.AuthorizationContext = resolveAuthorizationContext(source.AuthorizationContext, headerResolvers, p.logger)

			inboundHeaderResolvers := placeholder.New(
				placeholder.HeaderNamespace(signal.Headers),
				placeholder.ThingNamespace(signal.ThingID.Namespace, signal.ThingID.Name),
				placeholder.SourceNamespace(message.SourceAddress),
			)

			signal.Headers = ApplyHeaderMapping(headerRules, inboundHeaderResolvers, signal.Headers)

			if message.EnforcementFilter != nil {
				if errResp, rejected := p.enforce(*message.EnforcementFilter, signal, correlationID); rejected {
					result.ErrorResponses = append(result.ErrorResponses, errResp)

					continue
				}
			}

			result.Signals = append(result.Signals, signal)
		}
	}

	return result, nil
}

func resolveAuthorizationContext(subjects []string, resolvers placeholder.Resolvers, logger *slog.Logger) []string {
	if len(subjects) == 0 {
		return nil
	}

	out := make([]string, 0, len(subjects))

	for _, subject := range subjects {
		resolved, err := resolvers.Resolve(subject, true)

		if err != nil {
			logger.Warn("authorization context placeholder unresolved", "subject", subject, "err", err)
			resolved = subject
		}

		out = append(out, resolved)
	}

	return out
}

// enforce resolves the signal's thing identity as a placeholder
// namespace and checks the source's enforcement rule against it. On
// rejection it builds the ConnectionSignalIdEnforcementFailed
// error-response envelope, preserving the inbound correlation-id.
func (p *Processor) enforce(enforcement contract.Enforcement, signal contract.Signal, correlationID string) (contract.Signal, bool) {
	resolvers := placeholder.New(
		placeholder.ThingNamespace(signal.ThingID.Namespace, signal.ThingID.Name),
	)

	err := placeholder.CheckResolvedInput(enforcement.Input, enforcement.Filters, resolvers, p.connectionType)

	if err == nil {
		return contract.Signal{}, false
	}

	p.logger.Debug("enforcement rejected inbound message", "thing", signal.ThingID.String(), "err", err)

	return p.errorSignal(signal.ThingID, signal.Topic.Channel, correlationID, err), true
}

// errorSignal builds an internal error-response signal addressed back
// to the originating thing/channel, preserving the correlation-id, for
// an enforcement rejection (including a filter placeholder that cannot
// be resolved). Payload-mapping failures do not go through it.
func (p *Processor) errorSignal(id contract.ThingID, channel string, correlationID string, cause error) contract.Signal {
	status := 400

	return contract.Signal{
		Kind:    contract.SignalErrorResponse,
		ThingID: id,
		Topic: contract.Topic{
			Namespace: id.Namespace,
			Name:      id.Name,
			Group:     "things",
			Channel:   orDefault(channel, "twin"),
			Criterion: "errors",
		},
		Headers: contract.Headers{
			contract.HeaderCorrelationID:    correlationID,
			contract.HeaderResponseRequired: "false",
		},
		Status:  &status,
		Payload: []byte(fmt.Sprintf("{%q:%q}", "message", cause.Error())),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

// ShouldSuppress reports whether an outbound signal is a command
// response marked response-required == false, which spec.md §4.4 says
// the processor drops silently rather than mapping and publishing.
func ShouldSuppress(signal contract.Signal) bool {
	return signal.Kind == contract.SignalCommandResponse && !signal.Headers.ResponseRequired()
}

// OutboundResult is one mapped external message ready to publish,
// addressed to one resolved target.
type OutboundResult struct {
	Target  contract.PublishTarget
	Message contract.ExternalMessage
}

// ProcessOutbound runs the full outbound pipeline of spec.md §4.4 for
// one internal signal against the connection's configured targets.
//
// Response suppression (response-required == false on a
// command-response) is handled by the caller before invoking this
// method — spec.md frames it as "the processor drops it silently",
// which this implementation realizes by never entering the mapping
// pipeline for such signals.
func (p *Processor) ProcessOutbound(ctx context.Context, signal contract.Signal, targets []contract.Target) ([]OutboundResult, error) {
	var results []OutboundResult

	for _, target := range targets {
		if !topicMatches(target.Topics, signal.Topic) {
			continue
		}

		mappers, err := p.registry.Resolve(target.PayloadMapping)

		if err != nil {
			return nil, err
		}

		var messages []contract.ExternalMessage

		for _, named := range mappers {
			mapped, err := named.Mapper.MapOutbound(ctx, signal)

			if err != nil {
				p.logger.Warn("outbound payload mapping failed", "mapper", named.Alias, "target", target.Original, "err", err)

				continue
			}

			if p.limits.MaxMappedOutboundMessages > 0 && len(mapped) > p.limits.MaxMappedOutboundMessages {
				return nil, &problem.MessageMappingFailed{
					Mapper: named.Alias,
					Reason: fmt.Sprintf("mapper produced %d messages, exceeding limit of %d", len(mapped), p.limits.MaxMappedOutboundMessages),
				}
			}

			messages = append(messages, mapped...)
		}

		resolvedAddress, ok := p.resolveAddress(target, signal)

		if !ok {
			continue
		}

		headerRules := HeaderMapping(target.HeaderMapping)
		headerResolvers := placeholder.New(
			placeholder.HeaderNamespace(signal.Headers),
			placeholder.ThingNamespace(signal.ThingID.Namespace, signal.ThingID.Name),
			topicNamespace(signal.Topic),
		)

		for _, message := range messages {
			message.Headers = ApplyHeaderMapping(headerRules, headerResolvers, message.Headers)

			results = append(results, OutboundResult{
				Target: contract.PublishTarget{
					Address:  resolvedAddress,
					Original: target.Address,
					Target:   target,
				},
				Message: message,
			})
		}
	}

	return results, nil
}

// resolveAddress resolves one target's address template independently
// of any other target; a failure here only drops this target, per
// spec.md §4.4 step 3 and the universal property in §8.
func (p *Processor) resolveAddress(target contract.Target, signal contract.Signal) (string, bool) {
	resolvers := placeholder.New(
		placeholder.HeaderNamespace(signal.Headers),
		placeholder.ThingNamespace(signal.ThingID.Namespace, signal.ThingID.Name),
		topicNamespace(signal.Topic),
	)

	resolved, err := resolvers.Resolve(target.Address, true)

	if err != nil {
		p.logger.Info("dropping target with unresolved address placeholder", "target", target.Address, "err", err)

		return "", false
	}

	return resolved, true
}

func topicNamespace(t contract.Topic) placeholder.Namespace {
	return placeholder.TopicNamespace(map[string]string{
		"channel":        t.Channel,
		"group":          t.Group,
		"criterion":      t.Criterion,
		"action-subject": t.Action,
		"subject":        t.Subject,
		"namespace":      t.Namespace,
		"name":           t.Name,
	})
}

func topicMatches(subscribed []string, topic contract.Topic) bool {
	if len(subscribed) == 0 {
		return true
	}

	rendered := TopicString(topic)

	for _, want := range subscribed {
		if want == rendered || want == topic.Channel+"."+topic.Criterion {
			return true
		}
	}

	return false
}

func contentTypeBlacklisted(blacklist []string, contentType string) bool {
	for _, bad := range blacklist {
		if bad == contentType {
			return true
		}
	}

	return false
}
