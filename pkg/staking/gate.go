package staking

import "sync"

// GateTransition is the edge observed between two wallet states.
type GateTransition string

const (
	TransitionNone     GateTransition = "none"
	TransitionReady    GateTransition = "ready"
	TransitionCleared  GateTransition = "cleared"
	TransitionSwitched GateTransition = "switched"
)

// IsReady reports whether the dashboard may run for this wallet state.
func IsReady(identity Identity, connected bool) bool {
	return connected && !identity.IsZero()
}

// ConnectionGate tracks wallet readiness and the connect prompt shown while
// no wallet is ready.
type ConnectionGate struct {
	mutex      sync.Mutex
	ready      bool
	identity   Identity
	promptOpen bool
}

// NewConnectionGate returns a gate in the not-ready state with the prompt open.
func NewConnectionGate() *ConnectionGate {
	return &ConnectionGate{promptOpen: true}
}

// Observe records a wallet state and reports the readiness edge it caused.
func (gate *ConnectionGate) Observe(state WalletState) GateTransition {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()

	nowReady := IsReady(state.Identity, state.Connected)
	wasReady := gate.ready
	previous := gate.identity
	gate.ready = nowReady
	if nowReady {
		gate.identity = state.Identity
	} else {
		gate.identity = Identity{}
	}

	switch {
	case !wasReady && nowReady:
		return TransitionReady
	case wasReady && !nowReady:
		gate.promptOpen = true
		return TransitionCleared
	case wasReady && nowReady && previous != state.Identity:
		return TransitionSwitched
	default:
		return TransitionNone
	}
}

// Ready reports the last observed readiness.
func (gate *ConnectionGate) Ready() bool {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return gate.ready
}

// Identity returns the wallet the gate last saw as ready.
func (gate *ConnectionGate) Identity() Identity {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return gate.identity
}

// PromptOpen reports whether the connect prompt is showing.
func (gate *ConnectionGate) PromptOpen() bool {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return gate.promptOpen
}

// ClosePrompt dismisses the connect prompt.
func (gate *ConnectionGate) ClosePrompt() {
	gate.mutex.Lock()
	gate.promptOpen = false
	gate.mutex.Unlock()
}

// OpenPrompt shows the connect prompt again.
func (gate *ConnectionGate) OpenPrompt() {
	gate.mutex.Lock()
	gate.promptOpen = true
	gate.mutex.Unlock()
}
