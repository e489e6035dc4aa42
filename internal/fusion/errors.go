package fusion

import "github.com/pkg/errors"

var (
	// ErrTrainingModeMismatch is returned when the modules of a group are
	// not all in the same mode.
	ErrTrainingModeMismatch = errors.New("fusion: modules must be in the same mode (train or eval)")

	// ErrChannelMismatch is returned when the producer's output channels do
	// not match the batch-norm feature count.
	ErrChannelMismatch = errors.New("fusion: output channels must match batch-norm num_features")

	// ErrUnsupportedTraining is returned for combinations that can only be
	// fused in evaluation mode.
	ErrUnsupportedTraining = errors.New("fusion: combination can only be fused in eval mode")

	// ErrMissingRunningStats is returned when folding a batch-norm that does
	// not track running statistics.
	ErrMissingRunningStats = errors.New("fusion: batch-norm has no running statistics to fold")

	// ErrNoFuserMethod is returned for module sequences with no registered
	// fuser method.
	ErrNoFuserMethod = errors.New("fusion: no fuser method for pattern")

	// ErrUnexpectedModule is returned when a fuser method receives modules
	// of the wrong type or count.
	ErrUnexpectedModule = errors.New("fusion: unexpected module")

	// ErrInvalidGroup is returned for fusion groups with bad indices.
	ErrInvalidGroup = errors.New("fusion: invalid module group")
)
