package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/placeholder"
)

// ConnectionStatus implements the Hono "ConnectionStatus" mapper from
// spec.md §4.2: it synthesizes a ModifyFeature or ModifyFeatureProperty
// command from a device's "creation-time"/"ttd" headers, without ever
// inspecting the message body.
type ConnectionStatus struct {
	thingIDTemplate string
	featureID       string
}

// featureDefinition is the literal feature definition identifier every
// generated ConnectionStatus feature carries.
const featureDefinition = "org.eclipse.ditto:ConnectionStatus:1.0.0"

const defaultFeatureID = "ConnectionStatus"

// distantFuture is the sentinel readyUntil value used for ttd == -1
// (device declares itself always reachable).
const distantFuture = "9999-12-31T23:59:59Z"

func NewConnectionStatus() *ConnectionStatus {
	return &ConnectionStatus{featureID: defaultFeatureID}
}

func (m *ConnectionStatus) Configure(options map[string]string) error {
	thingID, ok := options["thingId"]

	if !ok || thingID == "" {
		return fmt.Errorf("connection-status: missing required option %q", "thingId")
	}

	m.thingIDTemplate = thingID

	if featureID, ok := options["featureId"]; ok && featureID != "" {
		m.featureID = featureID
	}

	return nil
}

func (m *ConnectionStatus) ContentTypeBlacklist() []string { return nil }

// MapInbound never returns an error: any malformed input (missing
// headers, an unresolvable thingId placeholder, an out-of-range ttd)
// yields an empty result, per spec.md §4.2.
func (m *ConnectionStatus) MapInbound(_ context.Context, message contract.ExternalMessage) ([]contract.Signal, error) {
	signal, ok := m.buildSignal(message)

	if !ok {
		return nil, nil
	}

	return []contract.Signal{signal}, nil
}

func (m *ConnectionStatus) buildSignal(message contract.ExternalMessage) (contract.Signal, bool) {
	resolvers := placeholder.New(placeholder.HeaderNamespace(message.Headers))

	thingIDStr, err := resolvers.Resolve(m.thingIDTemplate, true)

	if err != nil {
		return contract.Signal{}, false
	}

	namespace, name, ok := strings.Cut(thingIDStr, ":")

	if !ok {
		return contract.Signal{}, false
	}

	creationTimeStr, ok := message.Headers["creation-time"]

	if !ok {
		return contract.Signal{}, false
	}

	creationTime, err := strconv.ParseInt(creationTimeStr, 10, 64)

	if err != nil || creationTime < 0 {
		return contract.Signal{}, false
	}

	ttdStr, ok := message.Headers["ttd"]

	if !ok {
		return contract.Signal{}, false
	}

	ttd, err := strconv.ParseInt(ttdStr, 10, 64)

	if err != nil || ttd < -1 {
		return contract.Signal{}, false
	}

	thingID := contract.ThingID{Namespace: namespace, Name: name}

	var path string
	var value any

	switch {
	case ttd == -1:
		path = "/features/" + m.featureID
		value = m.feature(map[string]any{"readyUntil": distantFuture})
	case ttd == 0:
		path = "/features/" + m.featureID + "/properties/status/readyUntil"
		value = epochMillisToRFC3339(creationTime)
	default:
		path = "/features/" + m.featureID
		value = m.feature(map[string]any{
			"readySince": epochMillisToRFC3339(creationTime),
			"readyUntil": epochMillisToRFC3339(creationTime + ttd*1000),
		})
	}

	payload, err := json.Marshal(value)

	if err != nil {
		return contract.Signal{}, false
	}

	headers := contract.Headers{contract.HeaderResponseRequired: "false"}

	return contract.Signal{
		Kind:    contract.SignalCommand,
		ThingID: thingID,
		Topic: contract.Topic{
			Namespace: namespace,
			Name:      name,
			Group:     "things",
			Channel:   "twin",
			Criterion: "commands",
			Action:    "modify",
		},
		Headers: headers,
		Payload: payload,
	}, true
}

func (m *ConnectionStatus) feature(status map[string]any) map[string]any {
	return map[string]any{
		"definition": []string{featureDefinition},
		"properties": map[string]any{
			"status": status,
		},
	}
}

func epochMillisToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func (m *ConnectionStatus) MapOutbound(context.Context, contract.Signal) ([]contract.ExternalMessage, error) {
	return nil, nil
}
