package validate

import (
	"errors"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/problem"
)

// httpPushValidator covers spec.md's HTTP push invariants: an http(s)
// base URI, outbound targets only (HTTP push has no source side — it
// only ever delivers signals out as requests), and QoS is meaningless.
type httpPushValidator struct{}

func (v httpPushValidator) Validate(conn contract.Connection, mappers *mapping.Registry) error {
	var errs []error

	if err := checkURIScheme(conn.URI, []string{"http", "https"}); err != nil {
		errs = append(errs, err)
	}

	if len(conn.Sources) > 0 {
		errs = append(errs, errors.New("http-push connections cannot declare sources"))
	}

	if len(conn.Targets) == 0 {
		errs = append(errs, errors.New("http-push connection requires at least one target"))
	}

	for i, t := range conn.Targets {
		if t.Address == "" {
			errs = append(errs, fmt.Errorf("target[%d]: address (request path) required", i))
		}

		if t.QoS != nil {
			errs = append(errs, fmt.Errorf("target[%d]: qos has no meaning for http-push", i))
		}
	}

	if err := checkMappingAliases(conn, mappers); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	return &problem.ConfigurationInvalid{
		Description: fmt.Sprintf("http-push connection %q", conn.ID),
		Cause:       errors.Join(errs...),
	}
}
