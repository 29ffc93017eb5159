// Package problem defines the semantic error categories a connection's
// runtime can raise, named after the categories in the connectivity
// core's error handling design rather than exposed as bare sentinel
// values.
package problem

import "fmt"

// ConfigurationInvalid is returned by a protocol validator when a
// connection, source, target, enforcement or mapping definition violates
// one of that protocol's invariants. Description is human-readable and
// safe to surface to an operator.
type ConfigurationInvalid struct {
	Description string
	Cause       error
}

func (e *ConfigurationInvalid) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection configuration invalid: %s: %s", e.Description, e.Cause)
	}

	return fmt.Sprintf("connection configuration invalid: %s", e.Description)
}

func (e *ConfigurationInvalid) Unwrap() error { return e.Cause }

// MessageMappingFailed is returned when a payload mapper fails to
// process a message, or when a mapper's output exceeds the configured
// per-mapping message limits.
type MessageMappingFailed struct {
	Mapper string
	Reason string
	Cause  error
}

func (e *MessageMappingFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("message mapping failed (mapper %q): %s: %s", e.Mapper, e.Reason, e.Cause)
	}

	return fmt.Sprintf("message mapping failed (mapper %q): %s", e.Mapper, e.Reason)
}

func (e *MessageMappingFailed) Unwrap() error { return e.Cause }

// UnresolvedPlaceholder is returned by the placeholder engine in strict
// mode when a template names a registered namespace but a name within
// it that cannot be resolved. A namespace that is not registered at all
// is left literal and does not raise it.
type UnresolvedPlaceholder struct {
	Namespace string
	Name      string
}

func (e *UnresolvedPlaceholder) Error() string {
	return fmt.Sprintf("unresolved placeholder: %s:%s", e.Namespace, e.Name)
}

// EnforcementFailed is returned when an inbound message's resolved
// enforcement input does not match any of the resolved enforcement
// filters for its source.
type EnforcementFailed struct {
	Input   string
	Filters []string
}

func (e *EnforcementFailed) Error() string {
	return fmt.Sprintf("signal id enforcement failed: %q did not match any of %v", e.Input, e.Filters)
}

// StackTrace flattens an error built from [errors.Join], or from
// [fmt.Errorf] with more than one %w directive, into the individual
// errors that were combined to produce it, depth first. An error that
// wraps a single cause is returned as one entry, not unwrapped. Useful for logging every cause in a
// joined validation failure instead of just the outermost message.
func StackTrace(err error) []error {
	result := make([]error, 0)

	if err == nil {
		return result
	}

	type joined interface {
		Unwrap() []error
	}

	if e, ok := err.(joined); ok {
		for _, sub := range e.Unwrap() {
			result = append(result, StackTrace(sub)...)
		}

		return result
	}

	return append(result, err)
}
