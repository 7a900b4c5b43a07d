package staking

import (
	"fmt"
	"sync"
)

// FlowState is the visibility state of the pool options modal.
type FlowState string

const (
	FlowIdle     FlowState = "idle"
	FlowChoosing FlowState = "choosing"
)

// PoolSelectionFlow drives the pool options modal on top of a Session's
// selection. Closing the modal never changes the selection.
type PoolSelectionFlow struct {
	session *Session

	mutex sync.Mutex
	state FlowState
}

// NewPoolSelectionFlow starts an idle flow bound to session.
func NewPoolSelectionFlow(session *Session) (*PoolSelectionFlow, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session dependency is nil", ErrInvalidServiceConfig)
	}
	return &PoolSelectionFlow{session: session, state: FlowIdle}, nil
}

// State returns the current modal state.
func (flow *PoolSelectionFlow) State() FlowState {
	flow.mutex.Lock()
	defer flow.mutex.Unlock()
	return flow.state
}

// IsOpen reports whether the modal is showing.
func (flow *PoolSelectionFlow) IsOpen() bool {
	return flow.State() == FlowChoosing
}

// OpenModal shows the modal; a previous selection stays highlighted.
func (flow *PoolSelectionFlow) OpenModal() {
	flow.mutex.Lock()
	flow.state = FlowChoosing
	flow.mutex.Unlock()
}

// Close hides the modal and leaves the selection untouched.
func (flow *PoolSelectionFlow) Close() {
	flow.mutex.Lock()
	flow.state = FlowIdle
	flow.mutex.Unlock()
}

// SelectPool updates the selection while the modal is open. The modal stays open.
func (flow *PoolSelectionFlow) SelectPool(index int) error {
	flow.mutex.Lock()
	defer flow.mutex.Unlock()
	if flow.state != FlowChoosing {
		return WrapError(errorOperationFlow, errorSubjectModal, errorCodeClosed, ErrModalClosed)
	}
	return flow.session.SelectPool(index)
}

// Confirm closes the modal and returns the committed pool index. The modal
// closes even when nothing is selected; ErrNoSelection is returned then.
func (flow *PoolSelectionFlow) Confirm() (int, error) {
	flow.mutex.Lock()
	defer flow.mutex.Unlock()
	if flow.state != FlowChoosing {
		return 0, WrapError(errorOperationFlow, errorSubjectModal, errorCodeClosed, ErrModalClosed)
	}
	flow.state = FlowIdle
	snapshot := flow.session.Snapshot()
	if snapshot.SelectedPoolIndex == nil {
		return 0, ErrNoSelection
	}
	return *snapshot.SelectedPoolIndex, nil
}
