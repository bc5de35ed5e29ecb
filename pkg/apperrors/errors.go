package apperrors

import "errors"

var (
	// ErrConfiguration marks fatal startup problems: mandatory
	// destination or storage configuration is absent. Absent
	// text-generation credentials are not a configuration error because
	// every inference stage has a deterministic fallback.
	ErrConfiguration = errors.New("configuration error")

	// ErrInferenceDegraded marks a text-generation stage that was
	// replaced by its deterministic fallback. Recovered locally and
	// logged; never surfaced as a failure.
	ErrInferenceDegraded = errors.New("inference degraded to fallback")

	// ErrPlanInconsistency marks structural defects found in a
	// synthesized plan or script. Drives the regeneration loop rather
	// than aborting.
	ErrPlanInconsistency = errors.New("plan inconsistency")

	// ErrDeployment marks failures reported by the deployment target.
	// Reported verbatim, never retried.
	ErrDeployment = errors.New("deployment failure")

	ErrNotFound = errors.New("not found")
)
