package staking

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultPoolCatalog(test *testing.T) {
	test.Parallel()
	catalog := DefaultPoolCatalog()
	if catalog.Len() != 4 {
		test.Fatalf("expected 4 pools, got %d", catalog.Len())
	}
	expectedTerms := []struct {
		days     int
		hasTerm  bool
		apy      string
		capLimit string
	}{
		{days: 45, hasTerm: true, apy: "0.20", capLimit: "750000"},
		{days: 80, hasTerm: true, apy: "0.50", capLimit: "750000"},
		{days: 90, hasTerm: true, apy: "1.10", capLimit: "750000"},
		{days: 0, hasTerm: false, apy: "0.055"},
	}
	for index, expected := range expectedTerms {
		pool, err := catalog.Get(index)
		if err != nil {
			test.Fatalf("get %d: %v", index, err)
		}
		days, hasTerm := PoolTermDays(pool)
		if days != expected.days || hasTerm != expected.hasTerm {
			test.Fatalf("pool %d: expected term %d/%v, got %d/%v", index, expected.days, expected.hasTerm, days, hasTerm)
		}
		if !pool.AnnualYield().Equal(mustDecimal(test, expected.apy)) {
			test.Fatalf("pool %d: unexpected apy %s", index, pool.AnnualYield())
		}
		if expected.capLimit == "" {
			if !pool.StakeCap().Unlimited {
				test.Fatalf("pool %d: expected unlimited cap", index)
			}
			continue
		}
		if !pool.StakeCap().Limit.Equal(mustDecimal(test, expected.capLimit)) {
			test.Fatalf("pool %d: unexpected cap %s", index, pool.StakeCap().Limit)
		}
	}
}

func TestPoolDescriptions(test *testing.T) {
	test.Parallel()
	catalog := DefaultPoolCatalog()
	fixed, _ := catalog.Get(0)
	if fixed.Description() != "Maximum $REFI staked per wallet 750,000 $REFI." {
		test.Fatalf("unexpected fixed description %q", fixed.Description())
	}
	flexible, _ := catalog.Get(3)
	if flexible.Description() != "Stake or de-stake anytime. There is no limit to the $REFI staked." {
		test.Fatalf("unexpected flexible description %q", flexible.Description())
	}
}

func TestPoolCatalogGetOutOfRange(test *testing.T) {
	test.Parallel()
	catalog := DefaultPoolCatalog()
	for _, index := range []int{-1, 4, 100} {
		_, err := catalog.Get(index)
		if !errors.Is(err, ErrOutOfRange) {
			test.Fatalf("index %d: expected ErrOutOfRange, got %v", index, err)
		}
		var operationError OperationError
		if !errors.As(err, &operationError) || operationError.Code() != errorCodeOutOfRange {
			test.Fatalf("index %d: expected out_of_range code, got %v", index, err)
		}
	}
}

func TestNewPoolCatalogValidation(test *testing.T) {
	test.Parallel()
	validCap := LimitedCap(decimal.NewFromInt(100))
	testCases := []struct {
		name        string
		definitions []PoolDefinition
		wantErr     error
	}{
		{
			name:        "valid",
			definitions: []PoolDefinition{FixedTermPool{DurationDays: 30, Cap: validCap, APY: decimal.NewFromFloat(0.1)}, FlexiblePool{Cap: UnlimitedCap()}},
		},
		{name: "empty", definitions: nil, wantErr: ErrInvalidPoolDefinition},
		{name: "nil definition", definitions: []PoolDefinition{nil}, wantErr: ErrInvalidPoolDefinition},
		{
			name:        "zero duration",
			definitions: []PoolDefinition{FixedTermPool{DurationDays: 0, Cap: validCap}},
			wantErr:     ErrInvalidPoolDefinition,
		},
		{
			name:        "negative apy",
			definitions: []PoolDefinition{FlexiblePool{Cap: UnlimitedCap(), APY: decimal.NewFromInt(-1)}},
			wantErr:     ErrInvalidPoolDefinition,
		},
		{
			name:        "zero cap",
			definitions: []PoolDefinition{FlexiblePool{Cap: LimitedCap(decimal.Zero)}},
			wantErr:     ErrInvalidPoolDefinition,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			catalog, err := NewPoolCatalog(testCase.definitions...)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if catalog.Len() != len(testCase.definitions) {
				test.Fatalf("expected %d pools, got %d", len(testCase.definitions), catalog.Len())
			}
		})
	}
}

func TestEligiblePoolsHidesNftGatedPools(test *testing.T) {
	test.Parallel()
	catalog, err := NewPoolCatalog(
		FixedTermPool{DurationDays: 45, Cap: UnlimitedCap(), APY: decimal.NewFromFloat(0.2)},
		FixedTermPool{DurationDays: 90, Cap: UnlimitedCap(), APY: decimal.NewFromFloat(1.5), RequiresNFT: true},
		FlexiblePool{Cap: UnlimitedCap(), APY: decimal.NewFromFloat(0.05)},
	)
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	withoutNft := catalog.EligiblePools(false)
	if len(withoutNft) != 2 || withoutNft[0].Index != 0 || withoutNft[1].Index != 2 {
		test.Fatalf("unexpected pools without nft: %+v", withoutNft)
	}
	withNft := catalog.EligiblePools(true)
	if len(withNft) != 3 || withNft[1].Index != 1 {
		test.Fatalf("unexpected pools with nft: %+v", withNft)
	}
}

func TestDefinitionsReturnsCopy(test *testing.T) {
	test.Parallel()
	catalog := DefaultPoolCatalog()
	definitions := catalog.Definitions()
	definitions[0] = FlexiblePool{Cap: UnlimitedCap()}
	pool, _ := catalog.Get(0)
	if _, hasTerm := PoolTermDays(pool); !hasTerm {
		test.Fatalf("expected catalog unchanged by caller mutation")
	}
}
