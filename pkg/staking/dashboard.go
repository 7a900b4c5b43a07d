package staking

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Dashboard is the per-user controller: the connection gate in front of a
// session, its pool selection flow and the metrics projector.
type Dashboard struct {
	gate      *ConnectionGate
	session   *Session
	flow      *PoolSelectionFlow
	projector MetricsProjector
	price     PriceSource

	transitionMutex sync.Mutex
}

// NewDashboard wires a Dashboard around session.
func NewDashboard(session *Session, projector MetricsProjector, price PriceSource) (*Dashboard, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session dependency is nil", ErrInvalidServiceConfig)
	}
	if price == nil {
		return nil, fmt.Errorf("%w: price source dependency is nil", ErrInvalidServiceConfig)
	}
	flow, err := NewPoolSelectionFlow(session)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		gate:      NewConnectionGate(),
		session:   session,
		flow:      flow,
		projector: projector,
		price:     price,
	}, nil
}

// UpdateWallet feeds a wallet adapter change through the gate. Becoming
// ready starts a fetch cycle; losing readiness clears the session
// synchronously; switching accounts does both.
func (dashboard *Dashboard) UpdateWallet(ctx context.Context, state WalletState) (GateTransition, error) {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()

	transition := dashboard.gate.Observe(state)
	switch transition {
	case TransitionReady:
		return transition, dashboard.session.OnIdentityReady(ctx, state.Identity)
	case TransitionCleared:
		dashboard.flow.Close()
		dashboard.session.OnIdentityCleared()
	case TransitionSwitched:
		dashboard.flow.Close()
		dashboard.session.OnIdentityCleared()
		return transition, dashboard.session.OnIdentityReady(ctx, state.Identity)
	}
	return transition, nil
}

// Ready reports whether a wallet is connected.
func (dashboard *Dashboard) Ready() bool {
	return dashboard.gate.Ready()
}

// ConnectPromptOpen reports whether the connect prompt is showing.
func (dashboard *Dashboard) ConnectPromptOpen() bool {
	return dashboard.gate.PromptOpen()
}

// CloseConnectPrompt dismisses the connect prompt.
func (dashboard *Dashboard) CloseConnectPrompt() {
	dashboard.gate.ClosePrompt()
}

// OpenConnectPrompt shows the connect prompt again after it was dismissed.
func (dashboard *Dashboard) OpenConnectPrompt() {
	dashboard.gate.OpenPrompt()
}

// SessionSnapshot returns a copy of the session state.
func (dashboard *Dashboard) SessionSnapshot() Snapshot {
	return dashboard.session.Snapshot()
}

// Subscribe forwards to the session's slice update stream.
func (dashboard *Dashboard) Subscribe() (<-chan SliceUpdate, func()) {
	return dashboard.session.Subscribe()
}

// Catalog returns the pools on offer.
func (dashboard *Dashboard) Catalog() PoolCatalog {
	return dashboard.session.Catalog()
}

// EligiblePools lists the pools the connected wallet may stake into.
func (dashboard *Dashboard) EligiblePools() ([]IndexedPool, error) {
	if err := dashboard.requireReady(); err != nil {
		return nil, err
	}
	return dashboard.session.Catalog().EligiblePools(dashboard.session.Snapshot().NftEligible), nil
}

// SelectPool selects a pool directly from the pool cards. The gate check and
// the write share transitionMutex with UpdateWallet so a disconnect cannot
// land between them.
func (dashboard *Dashboard) SelectPool(index int) error {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	if err := dashboard.requireReady(); err != nil {
		return err
	}
	return dashboard.session.SelectPool(index)
}

// ClearSelection resets the selection.
func (dashboard *Dashboard) ClearSelection() error {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	if err := dashboard.requireReady(); err != nil {
		return err
	}
	dashboard.session.ClearSelection()
	return nil
}

// ModalState returns the pool modal state.
func (dashboard *Dashboard) ModalState() FlowState {
	return dashboard.flow.State()
}

// OpenModal shows the pool options modal.
func (dashboard *Dashboard) OpenModal() error {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	if err := dashboard.requireReady(); err != nil {
		return err
	}
	dashboard.flow.OpenModal()
	return nil
}

// CloseModal hides the pool options modal. Allowed in every state.
func (dashboard *Dashboard) CloseModal() {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	dashboard.flow.Close()
}

// SelectPoolInModal selects a pool from inside the open modal.
func (dashboard *Dashboard) SelectPoolInModal(index int) error {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	if err := dashboard.requireReady(); err != nil {
		return err
	}
	return dashboard.flow.SelectPool(index)
}

// ConfirmSelection closes the modal and returns the chosen pool index.
func (dashboard *Dashboard) ConfirmSelection() (int, error) {
	dashboard.transitionMutex.Lock()
	defer dashboard.transitionMutex.Unlock()
	if err := dashboard.requireReady(); err != nil {
		return 0, err
	}
	return dashboard.flow.Confirm()
}

// GlobalMetrics renders protocol figures at the current price.
func (dashboard *Dashboard) GlobalMetrics() ([]Metric, error) {
	if err := dashboard.requireReady(); err != nil {
		return nil, err
	}
	return dashboard.projector.GlobalMetrics(dashboard.session.Snapshot().Config, dashboard.price.CurrentPrice()), nil
}

// UserMetrics renders the wallet's figures at price.
func (dashboard *Dashboard) UserMetrics(price decimal.Decimal) ([]Metric, error) {
	if err := dashboard.requireReady(); err != nil {
		return nil, err
	}
	return dashboard.projector.UserMetrics(dashboard.session.Snapshot(), price), nil
}

// UserMetricsAtCurrentPrice renders the wallet's figures at the feed price.
func (dashboard *Dashboard) UserMetricsAtCurrentPrice() ([]Metric, error) {
	return dashboard.UserMetrics(dashboard.price.CurrentPrice())
}

// Projector returns the metrics projector the dashboard renders with.
func (dashboard *Dashboard) Projector() MetricsProjector {
	return dashboard.projector
}

// CurrentPrice returns the price the dashboard renders with.
func (dashboard *Dashboard) CurrentPrice() decimal.Decimal {
	return dashboard.price.CurrentPrice()
}

// Close stops outstanding fetches.
func (dashboard *Dashboard) Close() {
	dashboard.session.Close()
}

func (dashboard *Dashboard) requireReady() error {
	if !dashboard.gate.Ready() {
		return WrapError(errorOperationGate, errorSubjectGate, errorCodeNotConnected, ErrNotConnected)
	}
	return nil
}
