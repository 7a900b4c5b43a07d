package staking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSessionValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewSession(nil, DefaultPoolCatalog()); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil gateway, got %v", err)
	}
	if _, err := NewSession(&staticGateway{}, PoolCatalog{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for empty catalog, got %v", err)
	}
}

func TestSessionLoadsAllSlices(test *testing.T) {
	test.Parallel()
	gateway := &staticGateway{
		stakes: []Stake{mustStake(test, "1000", 45, "0.20")},
		config: sampleConfig(test),
		nfts:   []NftHandle{{Mint: "mint-1", TokenAccount: "ata-1"}},
	}
	session := mustSession(test, gateway)
	identity := mustIdentity(test, walletAlpha)
	if err := session.OnIdentityReady(context.Background(), identity); err != nil {
		test.Fatalf("ready: %v", err)
	}
	session.Wait()

	snapshot := session.Snapshot()
	if snapshot.Identity != identity {
		test.Fatalf("expected identity %s", identity)
	}
	if len(snapshot.Stakes) != 1 || snapshot.Config == nil || !snapshot.NftEligible || snapshot.NftCount != 1 {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Loaded != (LoadState{Stakes: true, Config: true, Nfts: true}) {
		test.Fatalf("expected every slice loaded, got %+v", snapshot.Loaded)
	}
	if len(snapshot.Warnings) != 0 {
		test.Fatalf("expected no warnings, got %+v", snapshot.Warnings)
	}
}

func TestSessionRejectsZeroIdentity(test *testing.T) {
	test.Parallel()
	gateway := &staticGateway{}
	session := mustSession(test, gateway)
	if err := session.OnIdentityReady(context.Background(), Identity{}); !errors.Is(err, ErrInvalidIdentity) {
		test.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if gateway.callCount(FetchSourceStakes) != 0 {
		test.Fatalf("expected no fetches")
	}
}

func TestSessionFetchFailuresAreIndependent(test *testing.T) {
	test.Parallel()
	failure := errors.New("rpc unavailable")
	testCases := []struct {
		name    string
		gateway *staticGateway
		failed  FetchSource
	}{
		{name: "stakes", gateway: &staticGateway{stakesErr: failure, nfts: []NftHandle{{Mint: "m"}}}, failed: FetchSourceStakes},
		{name: "config", gateway: &staticGateway{configErr: failure, nfts: []NftHandle{{Mint: "m"}}}, failed: FetchSourceConfig},
		{name: "nft ownership", gateway: &staticGateway{nftsErr: failure}, failed: FetchSourceNfts},
		{name: "panic", gateway: &staticGateway{panicOn: FetchSourceConfig, nfts: []NftHandle{{Mint: "m"}}}, failed: FetchSourceConfig},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			testCase.gateway.stakes = []Stake{mustStake(test, "10", 45, "0.20")}
			testCase.gateway.config = sampleConfig(test)
			logger := &recorderLogger{}
			session := mustSession(test, testCase.gateway, WithOperationLogger(logger))
			if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
				test.Fatalf("ready: %v", err)
			}
			session.Wait()

			snapshot := session.Snapshot()
			loaded := map[FetchSource]bool{
				FetchSourceStakes: snapshot.Loaded.Stakes,
				FetchSourceConfig: snapshot.Loaded.Config,
				FetchSourceNfts:   snapshot.Loaded.Nfts,
			}
			for source, isLoaded := range loaded {
				if source == testCase.failed && isLoaded {
					test.Fatalf("expected %s unloaded", source)
				}
				if source != testCase.failed && !isLoaded {
					test.Fatalf("expected %s loaded despite %s failure", source, testCase.failed)
				}
			}
			if len(snapshot.Warnings) != 1 || snapshot.Warnings[0].Source != testCase.failed {
				test.Fatalf("expected one warning for %s, got %+v", testCase.failed, snapshot.Warnings)
			}

			fetchFailures := 0
			for _, entry := range logger.byOperation(operationFetch) {
				if entry.Status == operationStatusError {
					fetchFailures++
					if !errors.Is(entry.Error, ErrFetchFailed) || entry.Source != testCase.failed {
						test.Fatalf("unexpected failure entry %+v", entry)
					}
				}
			}
			if fetchFailures != 1 {
				test.Fatalf("expected one failed fetch log, got %d", fetchFailures)
			}
		})
	}
}

func TestSessionCommitOrderDoesNotChangeFinalState(test *testing.T) {
	test.Parallel()
	orders := [][]FetchSource{
		{FetchSourceStakes, FetchSourceConfig, FetchSourceNfts},
		{FetchSourceStakes, FetchSourceNfts, FetchSourceConfig},
		{FetchSourceConfig, FetchSourceStakes, FetchSourceNfts},
		{FetchSourceConfig, FetchSourceNfts, FetchSourceStakes},
		{FetchSourceNfts, FetchSourceStakes, FetchSourceConfig},
		{FetchSourceNfts, FetchSourceConfig, FetchSourceStakes},
	}
	for _, order := range orders {
		order := order
		test.Run(string(order[0])+"_"+string(order[1])+"_"+string(order[2]), func(test *testing.T) {
			test.Parallel()
			gateway := newScriptedGateway()
			session := mustSession(test, gateway)
			if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
				test.Fatalf("ready: %v", err)
			}
			calls := gateway.nextCycle(test)
			responses := map[FetchSource]fetchReply{
				FetchSourceStakes: {stakes: []Stake{mustStake(test, "1", 45, "0.2"), mustStake(test, "2", 80, "0.5")}},
				FetchSourceConfig: {config: sampleConfig(test)},
				FetchSourceNfts:   {nfts: []NftHandle{{Mint: "m1"}, {Mint: "m2"}}},
			}
			for _, source := range order {
				reply(test, calls[source], responses[source])
			}
			session.Wait()

			snapshot := session.Snapshot()
			if len(snapshot.Stakes) != 2 || snapshot.Config == nil || snapshot.NftCount != 2 || !snapshot.NftEligible {
				test.Fatalf("unexpected final state %+v", snapshot)
			}
		})
	}
}

func TestSessionDiscardsLateResultFromPreviousIdentity(test *testing.T) {
	test.Parallel()
	gateway := newScriptedGateway()
	logger := &recorderLogger{}
	session := mustSession(test, gateway, WithOperationLogger(logger))
	alpha := mustIdentity(test, walletAlpha)
	beta := mustIdentity(test, walletBeta)

	if err := session.OnIdentityReady(context.Background(), alpha); err != nil {
		test.Fatalf("ready alpha: %v", err)
	}
	alphaCalls := gateway.nextCycle(test)

	session.OnIdentityCleared()
	if err := session.OnIdentityReady(context.Background(), beta); err != nil {
		test.Fatalf("ready beta: %v", err)
	}
	betaCalls := gateway.nextCycle(test)
	for _, call := range betaCalls {
		if call.identity != beta {
			test.Fatalf("expected beta fetches, got %s", call.identity)
		}
	}

	reply(test, betaCalls[FetchSourceStakes], fetchReply{stakes: []Stake{mustStake(test, "5", 45, "0.2")}})
	reply(test, betaCalls[FetchSourceConfig], fetchReply{config: sampleConfig(test)})
	reply(test, betaCalls[FetchSourceNfts], fetchReply{})
	reply(test, alphaCalls[FetchSourceStakes], fetchReply{stakes: []Stake{
		mustStake(test, "100", 45, "0.2"),
		mustStake(test, "200", 45, "0.2"),
		mustStake(test, "300", 45, "0.2"),
	}})
	reply(test, alphaCalls[FetchSourceConfig], fetchReply{})
	reply(test, alphaCalls[FetchSourceNfts], fetchReply{nfts: []NftHandle{{Mint: "alpha-nft"}}})
	session.Wait()

	snapshot := session.Snapshot()
	if snapshot.Identity != beta {
		test.Fatalf("expected beta identity")
	}
	if len(snapshot.Stakes) != 1 || !snapshot.Stakes[0].Amount.Equal(mustDecimal(test, "5")) {
		test.Fatalf("expected beta stakes only, got %+v", snapshot.Stakes)
	}
	if snapshot.NftEligible {
		test.Fatalf("expected alpha nft result discarded")
	}
	discarded := logger.byOperation(operationStaleDiscard)
	if len(discarded) != 3 {
		test.Fatalf("expected 3 discarded results, got %d", len(discarded))
	}
	for _, entry := range discarded {
		if entry.Identity != alpha || entry.Status != operationStatusDiscarded || !errors.Is(entry.Error, ErrStaleResult) {
			test.Fatalf("unexpected discard entry %+v", entry)
		}
	}
}

func TestSessionDiscardsResultAfterClear(test *testing.T) {
	test.Parallel()
	gateway := newScriptedGateway()
	session := mustSession(test, gateway)
	if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
		test.Fatalf("ready: %v", err)
	}
	calls := gateway.nextCycle(test)
	reply(test, calls[FetchSourceStakes], fetchReply{stakes: []Stake{mustStake(test, "10", 45, "0.2")}})
	waitForStakes(test, session, 1)

	session.OnIdentityCleared()
	snapshot := session.Snapshot()
	if len(snapshot.Stakes) != 0 || !snapshot.Identity.IsZero() {
		test.Fatalf("expected cleared session, got %+v", snapshot)
	}

	reply(test, calls[FetchSourceConfig], fetchReply{config: sampleConfig(test)})
	reply(test, calls[FetchSourceNfts], fetchReply{nfts: []NftHandle{{Mint: "m"}}})
	session.Wait()
	snapshot = session.Snapshot()
	if snapshot.Config != nil || snapshot.NftEligible {
		test.Fatalf("expected late results discarded after clear, got %+v", snapshot)
	}
	gateway.expectNoCalls(test)
}

func TestSessionStakesAppearWhileConfigOutstanding(test *testing.T) {
	test.Parallel()
	gateway := newScriptedGateway()
	session := mustSession(test, gateway)
	if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
		test.Fatalf("ready: %v", err)
	}
	calls := gateway.nextCycle(test)
	reply(test, calls[FetchSourceStakes], fetchReply{stakes: []Stake{mustStake(test, "1", 45, "0.2"), mustStake(test, "2", 45, "0.2")}})
	waitForStakes(test, session, 2)
	if session.Snapshot().Config != nil {
		test.Fatalf("expected config still outstanding")
	}

	reply(test, calls[FetchSourceNfts], fetchReply{})
	reply(test, calls[FetchSourceConfig], fetchReply{config: sampleConfig(test)})
	session.Wait()
	snapshot := session.Snapshot()
	if snapshot.NftEligible || len(snapshot.Stakes) != 2 {
		test.Fatalf("expected no nft eligibility and 2 stakes, got %+v", snapshot)
	}
}

func TestSessionReconnectSameIdentityDiscardsStaleConfig(test *testing.T) {
	test.Parallel()
	gateway := newScriptedGateway()
	session := mustSession(test, gateway)
	identity := mustIdentity(test, walletAlpha)

	if err := session.OnIdentityReady(context.Background(), identity); err != nil {
		test.Fatalf("ready: %v", err)
	}
	firstCycle := gateway.nextCycle(test)
	reply(test, firstCycle[FetchSourceStakes], fetchReply{})
	reply(test, firstCycle[FetchSourceNfts], fetchReply{})

	session.OnIdentityCleared()
	if err := session.OnIdentityReady(context.Background(), identity); err != nil {
		test.Fatalf("reconnect: %v", err)
	}
	secondCycle := gateway.nextCycle(test)

	fresh := sampleConfig(test)
	fresh.TokenMint = "fresh-mint"
	reply(test, secondCycle[FetchSourceConfig], fetchReply{config: fresh})
	waitForConfig(test, session)

	stale := sampleConfig(test)
	stale.TokenMint = "stale-mint"
	reply(test, firstCycle[FetchSourceConfig], fetchReply{config: stale})
	reply(test, secondCycle[FetchSourceStakes], fetchReply{})
	reply(test, secondCycle[FetchSourceNfts], fetchReply{})
	session.Wait()

	config := session.Snapshot().Config
	if config == nil || config.TokenMint != "fresh-mint" {
		test.Fatalf("expected fresh config kept, got %+v", config)
	}
}

func TestSessionSelectPool(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	session := mustSession(test, &staticGateway{}, WithOperationLogger(logger))
	if err := session.SelectPool(1); err != nil {
		test.Fatalf("select: %v", err)
	}
	for _, index := range []int{-1, 4, 100} {
		err := session.SelectPool(index)
		if !errors.Is(err, ErrInvalidSelection) || !errors.Is(err, ErrOutOfRange) {
			test.Fatalf("index %d: expected invalid selection, got %v", index, err)
		}
		selected := session.Snapshot().SelectedPoolIndex
		if selected == nil || *selected != 1 {
			test.Fatalf("index %d: expected prior selection 1 kept, got %v", index, selected)
		}
	}
	session.ClearSelection()
	session.ClearSelection()
	if session.Snapshot().HasSelection() {
		test.Fatalf("expected selection cleared")
	}
	if len(logger.byOperation(operationClearSelection)) != 1 {
		test.Fatalf("expected a single clear log entry")
	}
	failedSelections := 0
	for _, entry := range logger.byOperation(operationSelectPool) {
		if entry.Status == operationStatusError {
			failedSelections++
		}
	}
	if failedSelections != 3 {
		test.Fatalf("expected 3 failed selection logs, got %d", failedSelections)
	}
}

func TestSessionClearedResetsSelection(test *testing.T) {
	test.Parallel()
	session := mustSession(test, &staticGateway{stakes: []Stake{mustStake(test, "1", 45, "0.2")}})
	if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
		test.Fatalf("ready: %v", err)
	}
	session.Wait()
	if err := session.SelectPool(0); err != nil {
		test.Fatalf("select: %v", err)
	}
	session.OnIdentityCleared()
	snapshot := session.Snapshot()
	if snapshot.HasSelection() || len(snapshot.Stakes) != 0 || snapshot.Config != nil {
		test.Fatalf("expected empty session, got %+v", snapshot)
	}
}

func TestSessionSubscribe(test *testing.T) {
	test.Parallel()
	session := mustSession(test, &staticGateway{})
	updates, unsubscribe := session.Subscribe()
	if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
		test.Fatalf("ready: %v", err)
	}
	session.Wait()

	seen := map[SliceKind]bool{}
	for len(seen) < 4 {
		select {
		case update := <-updates:
			seen[update.Slice] = true
		case <-time.After(callTimeout):
			test.Fatalf("expected updates for every slice, got %v", seen)
		}
	}
	unsubscribe()
	unsubscribe()
	if _, open := <-updates; open {
		test.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestSessionCloseEndsSubscriptions(test *testing.T) {
	test.Parallel()
	session := mustSession(test, &staticGateway{})
	first, unsubscribeFirst := session.Subscribe()
	second, _ := session.Subscribe()

	session.Close()
	for name, updates := range map[string]<-chan SliceUpdate{"first": first, "second": second} {
		select {
		case _, open := <-updates:
			if open {
				test.Fatalf("%s: expected closed channel, got an update", name)
			}
		case <-time.After(callTimeout):
			test.Fatalf("%s: subscription still open after close", name)
		}
	}
	unsubscribeFirst()

	late, unsubscribeLate := session.Subscribe()
	if _, open := <-late; open {
		test.Fatalf("expected subscription on a closed session to be closed")
	}
	unsubscribeLate()
}

func TestSessionCloseCancelsFetchContext(test *testing.T) {
	test.Parallel()
	gateway := &cancellableGateway{started: make(chan struct{}, 3)}
	session, err := NewSession(gateway, DefaultPoolCatalog())
	if err != nil {
		test.Fatalf("session init failed: %v", err)
	}
	if err := session.OnIdentityReady(context.Background(), mustIdentity(test, walletAlpha)); err != nil {
		test.Fatalf("ready: %v", err)
	}
	for index := 0; index < 3; index++ {
		select {
		case <-gateway.started:
		case <-time.After(callTimeout):
			test.Fatalf("fetch did not start")
		}
	}
	session.Close()
	if len(session.Snapshot().Warnings) != 0 {
		test.Fatalf("expected cancelled results discarded")
	}
}

type cancellableGateway struct {
	started chan struct{}
}

func (gateway *cancellableGateway) block(ctx context.Context) error {
	gateway.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (gateway *cancellableGateway) FetchStakes(ctx context.Context, _ Identity) ([]Stake, error) {
	return nil, gateway.block(ctx)
}

func (gateway *cancellableGateway) FetchConfig(ctx context.Context, _ Identity) (ProtocolConfig, error) {
	return ProtocolConfig{}, gateway.block(ctx)
}

func (gateway *cancellableGateway) FetchNftOwnership(ctx context.Context, _ Identity) ([]NftHandle, error) {
	return nil, gateway.block(ctx)
}

func waitForStakes(test *testing.T, session *Session, count int) {
	test.Helper()
	deadline := time.Now().Add(callTimeout)
	for time.Now().Before(deadline) {
		if snapshot := session.Snapshot(); snapshot.Loaded.Stakes && len(snapshot.Stakes) == count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	test.Fatalf("stakes did not load")
}

func waitForConfig(test *testing.T, session *Session) {
	test.Helper()
	deadline := time.Now().Add(callTimeout)
	for time.Now().Before(deadline) {
		if session.Snapshot().Loaded.Config {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	test.Fatalf("config did not load")
}
