package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

var (
	ErrContractNotPresent = errors.New("contract is not present in contract table")
)

// ContractInfo is the static metadata of a futures root symbol.
type ContractInfo struct {
	Symbol     string      `yaml:"symbol" json:"symbol"`
	PointValue fixed.Point `yaml:"point_value" json:"point_value"`
	TickSize   fixed.Point `yaml:"tick_size" json:"tick_size"`
}

type ContractStore struct {
	contracts []ContractInfo
}

func CreateContractStore(contracts ...ContractInfo) ContractStore {
	return ContractStore{
		contracts: contracts,
	}
}

// With returns a copy of the store where the given contracts replace entries with the same symbol.
func (s ContractStore) With(contracts ...ContractInfo) ContractStore {
	merged := make([]ContractInfo, 0, len(s.contracts)+len(contracts))
	for _, existing := range s.contracts {
		if !containsSymbol(contracts, existing.Symbol) {
			merged = append(merged, existing)
		}
	}
	return ContractStore{contracts: append(merged, contracts...)}
}

func (s ContractStore) Len() int {
	return len(s.contracts)
}

func (s ContractStore) Contains(symbol string) bool {
	if _, err := s.Get(symbol); err != nil {
		return false
	}
	return true
}

func (s ContractStore) Get(symbol string) (ContractInfo, error) {
	for _, contract := range s.contracts {
		if strings.EqualFold(contract.Symbol, symbol) {
			return contract, nil
		}
	}
	return ContractInfo{}, fmt.Errorf("unable to get contract with symbol %s: %w", symbol, ErrContractNotPresent)
}

func (s ContractStore) MustGet(symbol string) ContractInfo {
	contract, err := s.Get(symbol)
	if err != nil {
		panic(err.Error())
	}
	return contract
}

// PointValue resolves a broker contract id, such as CON.F.US.MNQ.Z25, to the value of one point.
func (s ContractStore) PointValue(contractID string) (fixed.Point, bool) {
	contract, err := s.Get(common.ExtractSymbol(contractID))
	if err != nil {
		return fixed.Point{}, false
	}
	return contract.PointValue, true
}

func containsSymbol(contracts []ContractInfo, symbol string) bool {
	for _, contract := range contracts {
		if strings.EqualFold(contract.Symbol, symbol) {
			return true
		}
	}
	return false
}

// CreateDefaultContractStore holds the CME equity, energy and metal contracts traded on TopstepX.
func CreateDefaultContractStore() ContractStore {
	return CreateContractStore([]ContractInfo{
		{Symbol: "MNQ", PointValue: fixed.FromInt(2, 0), TickSize: fixed.FromInt(25, 2)},
		{Symbol: "MES", PointValue: fixed.FromInt(5, 0), TickSize: fixed.FromInt(25, 2)},
		{Symbol: "NQ", PointValue: fixed.FromInt(20, 0), TickSize: fixed.FromInt(25, 2)},
		{Symbol: "ES", PointValue: fixed.FromInt(50, 0), TickSize: fixed.FromInt(25, 2)},
		{Symbol: "MCL", PointValue: fixed.FromInt(100, 0), TickSize: fixed.FromInt(1, 2)},
		{Symbol: "MGC", PointValue: fixed.FromInt(10, 0), TickSize: fixed.FromInt(1, 1)},
		{Symbol: "CL", PointValue: fixed.FromInt(1000, 0), TickSize: fixed.FromInt(1, 2)},
		{Symbol: "GC", PointValue: fixed.FromInt(100, 0), TickSize: fixed.FromInt(1, 1)},
		{Symbol: "M2K", PointValue: fixed.FromInt(5, 0), TickSize: fixed.FromInt(1, 1)},
		{Symbol: "MYM", PointValue: fixed.FromInt(5, 1), TickSize: fixed.FromInt(1, 0)},
	}...)
}
