package lrsched

import (
	"encoding/json"
	"os"
	"slices"

	"github.com/pkg/errors"
)

// State is a serializable snapshot of a Scheduler.
type State struct {
	CurrentEpoch int                `json:"current_epoch"`
	BaseLRs      []float64          `json:"base_lrs"`
	LastLRs      []float64          `json:"last_lrs"`
	Policy       map[string]float64 `json:"policy,omitempty"`
}

// StatefulPolicy is implemented by policies carrying state across epochs.
type StatefulPolicy interface {
	Policy
	PolicyState() map[string]float64
	LoadPolicyState(state map[string]float64) error
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	st := State{
		CurrentEpoch: s.currentEpoch,
		BaseLRs:      slices.Clone(s.baseLRs),
		LastLRs:      slices.Clone(s.lastLRs),
	}
	if sp, ok := s.policy.(StatefulPolicy); ok {
		st.Policy = sp.PolicyState()
	}
	return st
}

// LoadState restores a snapshot taken with State. The optimizer's groups
// get the snapshot's initial and last rates so that training resumes where
// it stopped.
func (s *Scheduler) LoadState(st State) error {
	n := len(s.baseLRs)
	if len(st.BaseLRs) != n || len(st.LastLRs) != n {
		return errors.Wrapf(ErrStateMismatch, "state has %d/%d rates, scheduler has %d groups",
			len(st.BaseLRs), len(st.LastLRs), n)
	}
	if sp, ok := s.policy.(StatefulPolicy); ok && st.Policy != nil {
		if err := sp.LoadPolicyState(st.Policy); err != nil {
			return errors.Wrap(err, "lrsched: loading policy state")
		}
	}

	s.currentEpoch = st.CurrentEpoch
	s.baseLRs = slices.Clone(st.BaseLRs)
	s.lastLRs = slices.Clone(st.LastLRs)
	for i, g := range s.optimizer.ParamGroups() {
		g.SetInitialLR(s.baseLRs[i])
		g.SetLR(s.lastLRs[i])
	}
	return nil
}

// SaveState writes the scheduler state to path as JSON.
func (s *Scheduler) SaveState(path string) error {
	data, err := json.MarshalIndent(s.State(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "lrsched: encoding state")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "lrsched: writing state to %q", path)
	}
	return nil
}

// LoadStateFile reads a JSON state written by SaveState and loads it.
func (s *Scheduler) LoadStateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "lrsched: reading state from %q", path)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return errors.Wrapf(err, "lrsched: decoding state from %q", path)
	}
	return s.LoadState(st)
}
