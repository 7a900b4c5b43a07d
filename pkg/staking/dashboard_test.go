package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func mustDashboard(test *testing.T, gateway Gateway) *Dashboard {
	test.Helper()
	session := mustSession(test, gateway)
	dashboard, err := NewDashboard(session, NewMetricsProjector(nil, fixedClock), StaticPrice(mustDecimal(test, "0.002")))
	if err != nil {
		test.Fatalf("dashboard init failed: %v", err)
	}
	return dashboard
}

func TestNewDashboardValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewDashboard(nil, NewMetricsProjector(nil, nil), StaticPrice(mustDecimal(test, "1"))); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil session, got %v", err)
	}
	session := mustSession(test, &staticGateway{})
	if _, err := NewDashboard(session, NewMetricsProjector(nil, nil), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil price, got %v", err)
	}
}

func TestDashboardRejectsOperationsWhileDisconnected(test *testing.T) {
	test.Parallel()
	gateway := &staticGateway{}
	dashboard := mustDashboard(test, gateway)

	checks := map[string]error{
		"select pool":     dashboard.SelectPool(0),
		"clear selection": dashboard.ClearSelection(),
		"open modal":      dashboard.OpenModal(),
		"select in modal": dashboard.SelectPoolInModal(0),
	}
	_, checks["confirm"] = dashboard.ConfirmSelection()
	_, checks["global metrics"] = dashboard.GlobalMetrics()
	_, checks["user metrics"] = dashboard.UserMetricsAtCurrentPrice()
	_, checks["eligible pools"] = dashboard.EligiblePools()
	for name, err := range checks {
		if !errors.Is(err, ErrNotConnected) {
			test.Fatalf("%s: expected ErrNotConnected, got %v", name, err)
		}
	}
	if gateway.callCount(FetchSourceStakes)+gateway.callCount(FetchSourceConfig)+gateway.callCount(FetchSourceNfts) != 0 {
		test.Fatalf("expected no fetches while disconnected")
	}
	if !dashboard.ConnectPromptOpen() {
		test.Fatalf("expected connect prompt open by default")
	}
}

func TestDashboardConnectDisconnectCycle(test *testing.T) {
	test.Parallel()
	gateway := &staticGateway{
		stakes: []Stake{mustStake(test, "1000", 45, "0.20")},
		config: sampleConfig(test),
	}
	dashboard := mustDashboard(test, gateway)
	alpha := mustIdentity(test, walletAlpha)

	transition, err := dashboard.UpdateWallet(context.Background(), WalletState{Identity: alpha, Connected: true})
	if err != nil || transition != TransitionReady {
		test.Fatalf("expected ready transition, got %s %v", transition, err)
	}
	dashboard.session.Wait()
	if len(dashboard.SessionSnapshot().Stakes) != 1 {
		test.Fatalf("expected stakes loaded after connect")
	}

	if err := dashboard.OpenModal(); err != nil {
		test.Fatalf("open modal: %v", err)
	}
	if err := dashboard.SelectPoolInModal(1); err != nil {
		test.Fatalf("select: %v", err)
	}
	dashboard.CloseModal()
	if err := dashboard.OpenModal(); err != nil {
		test.Fatalf("reopen modal: %v", err)
	}
	selected := dashboard.SessionSnapshot().SelectedPoolIndex
	if selected == nil || *selected != 1 {
		test.Fatalf("expected selection kept across modal close, got %v", selected)
	}

	transition, err = dashboard.UpdateWallet(context.Background(), WalletState{})
	if err != nil || transition != TransitionCleared {
		test.Fatalf("expected cleared transition, got %s %v", transition, err)
	}
	snapshot := dashboard.SessionSnapshot()
	if len(snapshot.Stakes) != 0 || snapshot.HasSelection() {
		test.Fatalf("expected empty session after disconnect, got %+v", snapshot)
	}
	if dashboard.ModalState() != FlowIdle {
		test.Fatalf("expected modal closed after disconnect")
	}
	if !dashboard.ConnectPromptOpen() {
		test.Fatalf("expected connect prompt reopened")
	}

	transition, err = dashboard.UpdateWallet(context.Background(), WalletState{Identity: alpha, Connected: true})
	if err != nil || transition != TransitionReady {
		test.Fatalf("expected ready after reconnect, got %s %v", transition, err)
	}
	dashboard.session.Wait()
	if len(dashboard.SessionSnapshot().Stakes) != 1 {
		test.Fatalf("expected stakes reloaded after reconnect")
	}
	if gateway.callCount(FetchSourceStakes) != 2 {
		test.Fatalf("expected two stake fetches, got %d", gateway.callCount(FetchSourceStakes))
	}
}

func TestDashboardAccountSwitchRefetches(test *testing.T) {
	test.Parallel()
	gateway := &staticGateway{}
	dashboard := mustDashboard(test, gateway)
	alpha := mustIdentity(test, walletAlpha)
	beta := mustIdentity(test, walletBeta)

	if _, err := dashboard.UpdateWallet(context.Background(), WalletState{Identity: alpha, Connected: true}); err != nil {
		test.Fatalf("connect: %v", err)
	}
	dashboard.session.Wait()
	if err := dashboard.SelectPool(2); err != nil {
		test.Fatalf("select: %v", err)
	}
	transition, err := dashboard.UpdateWallet(context.Background(), WalletState{Identity: beta, Connected: true})
	if err != nil || transition != TransitionSwitched {
		test.Fatalf("expected switched transition, got %s %v", transition, err)
	}
	dashboard.session.Wait()
	snapshot := dashboard.SessionSnapshot()
	if snapshot.Identity != beta || snapshot.HasSelection() {
		test.Fatalf("expected beta session without selection, got %+v", snapshot)
	}
	if gateway.callCount(FetchSourceConfig) != 2 {
		test.Fatalf("expected a second fetch cycle")
	}
}

func TestDashboardMetrics(test *testing.T) {
	test.Parallel()
	dashboard := mustDashboard(test, &staticGateway{
		stakes: []Stake{mustStake(test, "1000", 45, "0.20")},
		config: sampleConfig(test),
	})
	if _, err := dashboard.UpdateWallet(context.Background(), WalletState{Identity: mustIdentity(test, walletAlpha), Connected: true}); err != nil {
		test.Fatalf("connect: %v", err)
	}
	dashboard.session.Wait()

	userMetrics, err := dashboard.UserMetricsAtCurrentPrice()
	if err != nil {
		test.Fatalf("user metrics: %v", err)
	}
	if metricByLabel(test, userMetrics, LabelTotalOwnedValue).Display != "$2.00" {
		test.Fatalf("unexpected owned value %+v", userMetrics)
	}
	globalMetrics, err := dashboard.GlobalMetrics()
	if err != nil {
		test.Fatalf("global metrics: %v", err)
	}
	if !metricByLabel(test, globalMetrics, LabelTotalSupplyLocked).Defined {
		test.Fatalf("expected supply share defined once config loaded")
	}
	pools, err := dashboard.EligiblePools()
	if err != nil || len(pools) != 4 {
		test.Fatalf("expected 4 eligible pools, got %d %v", len(pools), err)
	}
}

func TestDashboardDisconnectRacingSelectionLeavesNoSelection(test *testing.T) {
	test.Parallel()
	dashboard := mustDashboard(test, &staticGateway{})
	alpha := mustIdentity(test, walletAlpha)

	for iteration := 0; iteration < 200; iteration++ {
		if _, err := dashboard.UpdateWallet(context.Background(), WalletState{Identity: alpha, Connected: true}); err != nil {
			test.Fatalf("connect: %v", err)
		}
		dashboard.session.Wait()

		var waitGroup sync.WaitGroup
		waitGroup.Add(3)
		go func() {
			defer waitGroup.Done()
			_ = dashboard.SelectPool(1)
		}()
		go func() {
			defer waitGroup.Done()
			_ = dashboard.SelectPoolInModal(2)
		}()
		go func() {
			defer waitGroup.Done()
			_, _ = dashboard.UpdateWallet(context.Background(), WalletState{})
		}()
		waitGroup.Wait()

		if dashboard.Ready() {
			test.Fatalf("iteration %d: expected disconnected dashboard", iteration)
		}
		if dashboard.SessionSnapshot().HasSelection() {
			test.Fatalf("iteration %d: selection survived disconnect", iteration)
		}
	}
}
