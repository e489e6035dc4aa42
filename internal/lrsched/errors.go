package lrsched

import "github.com/pkg/errors"

var (
	// ErrNotGroupedOptimizer is returned when the optimizer does not expose
	// parameter groups.
	ErrNotGroupedOptimizer = errors.New("lrsched: optimizer does not expose parameter groups")

	// ErrMissingInitialLR is returned when resuming and a group has no
	// recorded initial learning rate.
	ErrMissingInitialLR = errors.New("lrsched: initial_lr is not specified when resuming an optimizer")

	// ErrNilPolicy is returned when a scheduler is built without a policy.
	ErrNilPolicy = errors.New("lrsched: nil policy")

	// ErrPolicyOutput is returned when a policy yields a rate count that
	// differs from the number of parameter groups.
	ErrPolicyOutput = errors.New("lrsched: policy returned wrong number of rates")

	// ErrStateMismatch is returned when loading state saved for a different
	// number of parameter groups.
	ErrStateMismatch = errors.New("lrsched: state does not match parameter groups")

	// ErrUnknownPolicy is returned by Lookup for unregistered names.
	ErrUnknownPolicy = errors.New("lrsched: unknown policy")
)
