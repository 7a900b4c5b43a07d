package staking

const (
	operationFetch           = "fetch"
	operationConnect         = "connect"
	operationDisconnect      = "disconnect"
	operationSelectPool      = "select_pool"
	operationClearSelection  = "clear_selection"
	operationStaleDiscard    = "stale_discard"
	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDiscarded = "discarded"

	errorOperationSession = "session"
	errorOperationCatalog = "catalog"
	errorOperationFlow    = "flow"
	errorOperationGate    = "dashboard"
	errorSubjectGate      = "gate"
	errorSubjectSelection = "selection"
	errorSubjectPool      = "pool"
	errorSubjectModal     = "modal"
	errorCodeOutOfRange   = "out_of_range"
	errorCodeNotConnected = "not_connected"
	errorCodeClosed       = "closed"
	errorCodeEmpty        = "empty"

	daysPerYear       = 365
	secondsPerDay     = 24 * 60 * 60
	basisPointsPerOne = 10000
	subscriberBuffer  = 16

	// MetricPlaceholder renders a metric whose inputs are not available yet.
	MetricPlaceholder = "—"
	// TokenSymbol is the staked token ticker used in metric displays.
	TokenSymbol = "$REFI"
)

// Metric labels, in display order.
const (
	LabelTotalSupplyLocked     = "Total Supply Locked"
	LabelFullyDilutedValuation = "Fully Diluted Valuation"
	LabelUSDPrice              = "USD Price"
	LabelTotalValueLocked      = "Total Value Locked"
	LabelTotalOwned            = "Total Owned"
	LabelTotalOwnedValue       = "Total Owned Value"
	LabelLockedInStaking       = "Locked in Staking"
	LabelExpectedRewards       = "Expected Rewards"
	LabelOwnedNfts             = "Owned NFTs"
)
