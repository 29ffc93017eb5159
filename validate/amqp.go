package validate

import (
	"errors"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/problem"
)

// amqpValidator covers both AMQP 0.9.1 and AMQP 1.0 connections; the two
// protocols share every invariant this core cares about at the
// connection-model level (addresses are broker-defined strings, QoS is
// not a first-class concept), so one validator serves both.
type amqpValidator struct {
	schemes []string
}

func (v amqpValidator) Validate(conn contract.Connection, mappers *mapping.Registry) error {
	var errs []error

	if err := checkURIScheme(conn.URI, v.schemes); err != nil {
		errs = append(errs, err)
	}

	if len(conn.Sources) == 0 && len(conn.Targets) == 0 {
		errs = append(errs, errors.New("connection has neither sources nor targets"))
	}

	for i, s := range conn.Sources {
		if len(s.Addresses) == 0 {
			errs = append(errs, fmt.Errorf("source[%d]: at least one address required", i))
		}

		if err := checkEnforcementNamespaces(s.Enforcement, defaultNamespaces); err != nil {
			errs = append(errs, fmt.Errorf("source[%d]: %w", i, err))
		}
	}

	for i, t := range conn.Targets {
		if t.Address == "" {
			errs = append(errs, fmt.Errorf("target[%d]: address required", i))
		}
	}

	if err := checkMappingAliases(conn, mappers); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	return &problem.ConfigurationInvalid{
		Description: fmt.Sprintf("%s connection %q", conn.Type, conn.ID),
		Cause:       errors.Join(errs...),
	}
}
