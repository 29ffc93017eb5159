package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/problem"
)

// mqttValidator enforces the extra constraints spec.md §4.5 calls out
// specifically for MQTT: QoS is mandatory on every source and target
// (there is no sane connection-wide default to fall back to), header
// mapping is not supported (MQTT publishes carry no header frame this
// core can attach to), client and consumer counts are capped at 1 (a
// single persistent session per connection), and topic wildcards are
// only meaningful on the subscribe side.
type mqttValidator struct{}

func (v mqttValidator) Validate(conn contract.Connection, mappers *mapping.Registry) error {
	var errs []error

	if err := checkURIScheme(conn.URI, []string{"tcp", "ssl", "ws", "wss", "mqtt", "mqtts"}); err != nil {
		errs = append(errs, err)
	}

	if conn.ClientCount > 1 {
		errs = append(errs, fmt.Errorf("clientCount %d exceeds the mqtt maximum of 1", conn.ClientCount))
	}

	for i, s := range conn.Sources {
		if s.ConsumerCount > 1 {
			errs = append(errs, fmt.Errorf("source[%d]: consumerCount %d exceeds the mqtt maximum of 1", i, s.ConsumerCount))
		}

		if s.QoS == nil {
			errs = append(errs, fmt.Errorf("source[%d]: qos is mandatory for mqtt sources", i))
		}

		if len(s.HeaderMapping) > 0 {
			errs = append(errs, fmt.Errorf("source[%d]: header mapping is not supported for mqtt", i))
		}

		for _, addr := range s.Addresses {
			if err := validateMQTTTopicFilter(addr); err != nil {
				errs = append(errs, fmt.Errorf("source[%d]: address %q: %w", i, addr, err))
			}
		}

		if err := checkEnforcementNamespaces(s.Enforcement, defaultNamespaces); err != nil {
			errs = append(errs, fmt.Errorf("source[%d]: %w", i, err))
		}
	}

	for i, t := range conn.Targets {
		if t.QoS == nil {
			errs = append(errs, fmt.Errorf("target[%d]: qos is mandatory for mqtt targets", i))
		}

		if len(t.HeaderMapping) > 0 {
			errs = append(errs, fmt.Errorf("target[%d]: header mapping is not supported for mqtt", i))
		}

		if strings.ContainsAny(t.Address, "+#") {
			errs = append(errs, fmt.Errorf("target[%d]: address %q: wildcards are not allowed in a publish topic", i, t.Address))
		}
	}

	if err := checkMappingAliases(conn, mappers); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	return &problem.ConfigurationInvalid{
		Description: fmt.Sprintf("mqtt connection %q", conn.ID),
		Cause:       errors.Join(errs...),
	}
}

// validateMQTTTopicFilter checks that "#" only appears as the final
// level and "+" only ever occupies a whole level, per the MQTT 3.1.1
// topic-filter grammar.
func validateMQTTTopicFilter(filter string) error {
	levels := strings.Split(filter, "/")

	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return errors.New(`"#" must occupy its own final topic level`)
		}

		if strings.Contains(level, "+") && level != "+" {
			return errors.New(`"+" must occupy its own topic level`)
		}
	}

	return nil
}
