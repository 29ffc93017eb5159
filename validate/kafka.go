package validate

import (
	"errors"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/problem"
)

// kafkaValidator checks that the bootstrap-servers URI is non-empty,
// that every source names at least one topic and every target a topic,
// and rejects QoS (it has no meaning for Kafka) rather than silently
// ignoring it. It does not check the URI's form or scheme, nor the
// "topic#partition" syntax of addresses.
type kafkaValidator struct{}

func (v kafkaValidator) Validate(conn contract.Connection, mappers *mapping.Registry) error {
	var errs []error

	if conn.URI == "" {
		errs = append(errs, errors.New("uri (bootstrap servers) required"))
	}

	for i, s := range conn.Sources {
		if len(s.Addresses) == 0 {
			errs = append(errs, fmt.Errorf("source[%d]: at least one topic required", i))
		}

		if s.QoS != nil {
			errs = append(errs, fmt.Errorf("source[%d]: qos has no meaning for kafka", i))
		}

		if err := checkEnforcementNamespaces(s.Enforcement, defaultNamespaces); err != nil {
			errs = append(errs, fmt.Errorf("source[%d]: %w", i, err))
		}
	}

	for i, t := range conn.Targets {
		if t.Address == "" {
			errs = append(errs, fmt.Errorf("target[%d]: topic required", i))
		}

		if t.QoS != nil {
			errs = append(errs, fmt.Errorf("target[%d]: qos has no meaning for kafka", i))
		}
	}

	if err := checkMappingAliases(conn, mappers); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	return &problem.ConfigurationInvalid{
		Description: fmt.Sprintf("kafka connection %q", conn.ID),
		Cause:       errors.Join(errs...),
	}
}
