package staking

import (
	"context"
	"fmt"
	"sync"
)

// SliceKind names the part of session state an update touched.
type SliceKind string

const (
	SliceIdentity  SliceKind = "identity"
	SliceStakes    SliceKind = "stakes"
	SliceConfig    SliceKind = "config"
	SliceNfts      SliceKind = "nft_ownership"
	SliceSelection SliceKind = "selection"
)

// SliceUpdate is published to subscribers after a slice changes.
type SliceUpdate struct {
	Slice  SliceKind
	Cycle  uint64
	Failed bool
}

// Session owns the per-wallet staking state: the three remotely loaded
// slices and the pool selection. Results of a fetch cycle are committed only
// while the cycle that issued them is still current.
type Session struct {
	gateway Gateway
	catalog PoolCatalog
	logger  OperationLogger

	mutex            sync.Mutex
	identity         Identity
	cycle            uint64
	cancelCycle      context.CancelFunc
	stakes           []Stake
	config           *ProtocolConfig
	nftCount         int
	selected         *int
	warnings         []FetchWarning
	loaded           LoadState
	subscribers      map[uint64]chan SliceUpdate
	nextSubscriberID uint64
	closed           bool

	inflight sync.WaitGroup
}

type fetchTicket struct {
	cycle    uint64
	identity Identity
}

// NewSession wires a Session.
func NewSession(gateway Gateway, catalog PoolCatalog, options ...SessionOption) (*Session, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if catalog.Len() == 0 {
		return nil, fmt.Errorf("%w: pool catalog is empty", ErrInvalidServiceConfig)
	}
	session := &Session{
		gateway:     gateway,
		catalog:     catalog,
		subscribers: make(map[uint64]chan SliceUpdate),
	}
	for _, option := range options {
		if option != nil {
			option(session)
		}
	}
	return session, nil
}

// OnIdentityReady starts a fetch cycle for identity. The three loads run
// concurrently and each commits only its own slice.
func (session *Session) OnIdentityReady(ctx context.Context, identity Identity) error {
	if identity.IsZero() {
		return fmt.Errorf("%w: cannot start a fetch cycle without a wallet", ErrInvalidIdentity)
	}
	cycleContext, cancel := context.WithCancel(ctx)

	session.mutex.Lock()
	if session.cancelCycle != nil {
		session.cancelCycle()
	}
	session.cycle++
	session.cancelCycle = cancel
	session.identity = identity
	session.resetSlicesLocked()
	ticket := fetchTicket{cycle: session.cycle, identity: identity}
	session.notifyLocked(SliceUpdate{Slice: SliceIdentity, Cycle: ticket.cycle})
	session.inflight.Add(3)
	session.mutex.Unlock()

	session.logOperation(ctx, OperationLog{Operation: operationConnect, Identity: identity, Cycle: ticket.cycle})

	go session.loadNftOwnership(cycleContext, ticket)
	go session.loadStakes(cycleContext, ticket)
	go session.loadConfig(cycleContext, ticket)
	return nil
}

// OnIdentityCleared drops everything tied to the previous wallet and
// invalidates its outstanding fetches.
func (session *Session) OnIdentityCleared() {
	session.mutex.Lock()
	previous := session.identity
	if session.cancelCycle != nil {
		session.cancelCycle()
		session.cancelCycle = nil
	}
	session.cycle++
	session.identity = Identity{}
	session.resetSlicesLocked()
	session.selected = nil
	cycle := session.cycle
	session.notifyLocked(SliceUpdate{Slice: SliceIdentity, Cycle: cycle})
	session.notifyLocked(SliceUpdate{Slice: SliceSelection, Cycle: cycle})
	session.mutex.Unlock()

	session.logOperation(context.Background(), OperationLog{Operation: operationDisconnect, Identity: previous, Cycle: cycle})
}

// SelectPool records index as the chosen pool.
func (session *Session) SelectPool(index int) error {
	if _, err := session.catalog.Get(index); err != nil {
		selectionError := WrapError(errorOperationSession, errorSubjectSelection, errorCodeOutOfRange,
			fmt.Errorf("%w: %w", ErrInvalidSelection, err))
		session.logOperation(context.Background(), OperationLog{Operation: operationSelectPool, Identity: session.Identity(), PoolIndex: index, Error: selectionError})
		return selectionError
	}
	session.mutex.Lock()
	selected := index
	session.selected = &selected
	identity := session.identity
	session.notifyLocked(SliceUpdate{Slice: SliceSelection, Cycle: session.cycle})
	session.mutex.Unlock()

	session.logOperation(context.Background(), OperationLog{Operation: operationSelectPool, Identity: identity, PoolIndex: index})
	return nil
}

// ClearSelection resets the selection to none. Calling it repeatedly is a no-op.
func (session *Session) ClearSelection() {
	session.mutex.Lock()
	if session.selected == nil {
		session.mutex.Unlock()
		return
	}
	session.selected = nil
	identity := session.identity
	session.notifyLocked(SliceUpdate{Slice: SliceSelection, Cycle: session.cycle})
	session.mutex.Unlock()

	session.logOperation(context.Background(), OperationLog{Operation: operationClearSelection, Identity: identity, PoolIndex: -1})
}

// Snapshot returns a copy of the current state.
func (session *Session) Snapshot() Snapshot {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	snapshot := Snapshot{
		Identity:    session.identity,
		Stakes:      make([]Stake, len(session.stakes)),
		NftEligible: session.nftCount > 0,
		NftCount:    session.nftCount,
		Warnings:    make([]FetchWarning, len(session.warnings)),
		Loaded:      session.loaded,
	}
	copy(snapshot.Stakes, session.stakes)
	copy(snapshot.Warnings, session.warnings)
	if session.config != nil {
		config := *session.config
		snapshot.Config = &config
	}
	if session.selected != nil {
		selected := *session.selected
		snapshot.SelectedPoolIndex = &selected
	}
	return snapshot
}

// Identity returns the wallet the session is currently bound to.
func (session *Session) Identity() Identity {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.identity
}

// Catalog returns the pools the session validates selections against.
func (session *Session) Catalog() PoolCatalog {
	return session.catalog
}

// Subscribe registers for slice updates. Delivery never blocks the session:
// a subscriber whose buffer is full misses updates and should re-read the
// snapshot. The returned function unsubscribes and closes the channel.
// Close also closes every subscriber channel, and subscribing to a closed
// session yields a channel that is already closed.
func (session *Session) Subscribe() (<-chan SliceUpdate, func()) {
	updates := make(chan SliceUpdate, subscriberBuffer)
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		close(updates)
		return updates, func() {}
	}
	subscriberID := session.nextSubscriberID
	session.nextSubscriberID++
	session.subscribers[subscriberID] = updates

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			session.mutex.Lock()
			defer session.mutex.Unlock()
			session.dropSubscriberLocked(subscriberID)
		})
	}
	return updates, unsubscribe
}

// dropSubscriberLocked closes the channel only if it is still registered so
// Close and unsubscribe never close it twice.
func (session *Session) dropSubscriberLocked(subscriberID uint64) {
	updates, ok := session.subscribers[subscriberID]
	if !ok {
		return
	}
	delete(session.subscribers, subscriberID)
	close(updates)
}

// Wait blocks until every fetch issued so far has returned.
func (session *Session) Wait() {
	session.inflight.Wait()
}

// Close cancels outstanding fetches, ends every subscription and waits for
// the fetches to return.
func (session *Session) Close() {
	session.mutex.Lock()
	if session.cancelCycle != nil {
		session.cancelCycle()
		session.cancelCycle = nil
	}
	session.cycle++
	session.closed = true
	for subscriberID := range session.subscribers {
		session.dropSubscriberLocked(subscriberID)
	}
	session.mutex.Unlock()
	session.Wait()
}

func (session *Session) loadNftOwnership(ctx context.Context, ticket fetchTicket) {
	defer session.inflight.Done()
	handles, err := guardedFetch(func() ([]NftHandle, error) {
		return session.gateway.FetchNftOwnership(ctx, ticket.identity)
	})
	session.commit(ctx, ticket, FetchSourceNfts, err, func() {
		session.nftCount = len(handles)
		session.loaded.Nfts = true
	})
}

func (session *Session) loadStakes(ctx context.Context, ticket fetchTicket) {
	defer session.inflight.Done()
	stakes, err := guardedFetch(func() ([]Stake, error) {
		return session.gateway.FetchStakes(ctx, ticket.identity)
	})
	session.commit(ctx, ticket, FetchSourceStakes, err, func() {
		session.stakes = make([]Stake, len(stakes))
		copy(session.stakes, stakes)
		session.loaded.Stakes = true
	})
}

func (session *Session) loadConfig(ctx context.Context, ticket fetchTicket) {
	defer session.inflight.Done()
	config, err := guardedFetch(func() (ProtocolConfig, error) {
		return session.gateway.FetchConfig(ctx, ticket.identity)
	})
	session.commit(ctx, ticket, FetchSourceConfig, err, func() {
		session.config = &config
		session.loaded.Config = true
	})
}

func (session *Session) commit(ctx context.Context, ticket fetchTicket, source FetchSource, fetchErr error, apply func()) {
	session.mutex.Lock()
	if ticket.cycle != session.cycle || ticket.identity != session.identity {
		session.mutex.Unlock()
		session.logOperation(ctx, OperationLog{
			Operation: operationStaleDiscard,
			Identity:  ticket.identity,
			Source:    source,
			Cycle:     ticket.cycle,
			Status:    operationStatusDiscarded,
			Error:     ErrStaleResult,
		})
		return
	}
	var logError error
	if fetchErr != nil {
		logError = FetchError{Source: source, Err: fetchErr}
		session.warnings = append(session.warnings, FetchWarning{Source: source, Message: fetchErr.Error()})
	} else {
		apply()
	}
	session.notifyLocked(SliceUpdate{Slice: sliceForSource(source), Cycle: ticket.cycle, Failed: fetchErr != nil})
	session.mutex.Unlock()

	session.logOperation(ctx, OperationLog{
		Operation: operationFetch,
		Identity:  ticket.identity,
		Source:    source,
		Cycle:     ticket.cycle,
		Error:     logError,
	})
}

func (session *Session) resetSlicesLocked() {
	session.stakes = nil
	session.config = nil
	session.nftCount = 0
	session.warnings = nil
	session.loaded = LoadState{}
}

func (session *Session) notifyLocked(update SliceUpdate) {
	for _, subscriber := range session.subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

func (session *Session) logOperation(ctx context.Context, entry OperationLog) {
	if session.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	session.logger.LogOperation(ctx, entry)
}

func sliceForSource(source FetchSource) SliceKind {
	switch source {
	case FetchSourceStakes:
		return SliceStakes
	case FetchSourceConfig:
		return SliceConfig
	default:
		return SliceNfts
	}
}

func guardedFetch[T any](fetch func() (T, error)) (result T, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero T
			result = zero
			err = fmt.Errorf("gateway panic: %v", recovered)
		}
	}()
	return fetch()
}
