package placeholder

import (
	"strings"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/problem"
)

// Check resolves an enforcement's input and filter templates against
// resolvers and reports whether the resolved input matches at least one
// resolved filter, using protocol-appropriate equality.
//
// For MQTT, filters may contain "+"/"#" wildcards and matching follows
// MQTT topic-filter rules; every other protocol uses plain string
// equality, per spec.md §4.1.
func Check(
	enforcement contract.Enforcement,
	resolvers Resolvers,
	connectionType contract.ConnectionType,
) error {
	input, err := resolvers.Resolve(enforcement.Input, true)

	if err != nil {
		return err
	}

	resolvedFilters := make([]string, 0, len(enforcement.Filters))

	for _, filter := range enforcement.Filters {
		resolved, err := resolvers.Resolve(filter, true)

		if err != nil {
			return err
		}

		resolvedFilters = append(resolvedFilters, resolved)
	}

	for _, filter := range resolvedFilters {
		if matches(connectionType, input, filter) {
			return nil
		}
	}

	return &problem.EnforcementFailed{Input: input, Filters: resolvedFilters}
}

// CheckResolvedInput is [Check]'s counterpart for the real pipeline,
// where the enforcement input was already resolved early against
// "source:address" by the consumer worker (spec.md §4.6), before the
// signal's thing identity — and hence the filter templates' resolution
// context — was known. Only the filters are resolved here, against
// resolvers built from the mapped signal's thing identity.
func CheckResolvedInput(
	resolvedInput string,
	filters []string,
	resolvers Resolvers,
	connectionType contract.ConnectionType,
) error {
	resolvedFilters := make([]string, 0, len(filters))

	for _, filter := range filters {
		resolved, err := resolvers.Resolve(filter, true)

		if err != nil {
			return err
		}

		resolvedFilters = append(resolvedFilters, resolved)
	}

	for _, filter := range resolvedFilters {
		if matches(connectionType, resolvedInput, filter) {
			return nil
		}
	}

	return &problem.EnforcementFailed{Input: resolvedInput, Filters: resolvedFilters}
}

func matches(connectionType contract.ConnectionType, value, filter string) bool {
	if connectionType != contract.MQTT {
		return value == filter
	}

	return MatchMQTTTopic(filter, value)
}

// MatchMQTTTopic reports whether topic matches the MQTT topic filter
// pattern, supporting the single-level "+" and multi-level "#"
// wildcards. Adapted from the teacher's matchTopic/matchParts, reused
// here both for enforcement filter matching and, in the mqtt transport
// package, for fan-out routing of incoming publishes to subscribers.
func MatchMQTTTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	return matchParts(strings.Split(pattern, "/"), strings.Split(topic, "/"))
}

func matchParts(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}

	if len(topic) == 0 {
		return pattern[0] == "#"
	}

	if pattern[0] == "#" {
		return true
	}

	if pattern[0] == "+" || pattern[0] == topic[0] {
		return matchParts(pattern[1:], topic[1:])
	}

	return false
}
