package config

import (
	"fmt"
	"regexp"
	"strings"

	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
)

// Cache names end up as Prometheus label values and log attributes.
var cacheNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateCacheConfig performs logical validation of a parsed CacheConfig and
// returns every problem found.
func ValidateCacheConfig(c *CacheConfig) []error {
	var errs []error

	if c.Name != "" && !cacheNameRegex.MatchString(c.Name) {
		errs = append(errs, lcerrors.NewValidationError(fmt.Sprintf("name '%s' contains invalid characters (allowed: alphanumeric, underscore, hyphen, dot)", c.Name), nil))
	}

	if c.SubscriberPolicy != nil {
		if err := ValidateSubscriberPolicy(c.SubscriberPolicy); err != nil {
			errs = append(errs, err)
		}
	}

	if c.FilterPolicy != nil {
		if c.FilterPolicy.ParallelisationThreshold != nil && *c.FilterPolicy.ParallelisationThreshold < 0 {
			errs = append(errs, lcerrors.NewValidationError("filter_policy parallelisation_threshold cannot be negative", nil))
		}
		if c.FilterPolicy.MaxDegreeOfParallelism != nil && *c.FilterPolicy.MaxDegreeOfParallelism < 0 {
			errs = append(errs, lcerrors.NewValidationError("filter_policy max_degree_of_parallelism cannot be negative", nil))
		}
	}

	if c.StatePolicy != nil {
		if c.StatePolicy.AccessMode != "" && c.StatePolicy.AccessMode != StateAccessDeepCopy && c.StatePolicy.AccessMode != StateAccessUnsafeDirectReference {
			errs = append(errs, lcerrors.NewValidationError(fmt.Sprintf("state_policy has invalid access_mode: '%s'", c.StatePolicy.AccessMode), nil))
		}
	}

	if c.Logging != nil {
		switch strings.ToLower(c.Logging.Format) {
		case "", "text", "json":
		default:
			errs = append(errs, lcerrors.NewValidationError(fmt.Sprintf("logging has invalid format: '%s'", c.Logging.Format), nil))
		}
	}

	return errs
}

// ValidateSubscriberPolicy checks a subscriber policy. The drop strategies are
// rejected: a dropped change-set leaves the subscriber with a gap it can never
// reconcile.
func ValidateSubscriberPolicy(p *SubscriberPolicy) error {
	if p.BufferSize != nil && *p.BufferSize < 0 {
		return lcerrors.NewValidationError("subscriber_policy buffer_size cannot be negative", nil)
	}
	switch p.OverflowStrategy {
	case "", OverflowBlock, OverflowError:
		return nil
	case OverflowDropNew, OverflowDropOldest:
		return lcerrors.NewValidationError(fmt.Sprintf("subscriber_policy overflow_strategy '%s' would drop change-sets; use '%s' or '%s'", p.OverflowStrategy, OverflowBlock, OverflowError), nil)
	default:
		return lcerrors.NewValidationError(fmt.Sprintf("subscriber_policy has invalid overflow_strategy: '%s'", p.OverflowStrategy), nil)
	}
}
