package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

func TestContractStore_Get(t *testing.T) {
	store := CreateDefaultContractStore()

	contract, err := store.Get("mnq")
	require.NoError(t, err)
	assert.Equal(t, "MNQ", contract.Symbol)
	assert.True(t, contract.PointValue.Eq(fixed.FromInt(2, 0)))

	_, err = store.Get("ZB")
	assert.True(t, errors.Is(err, ErrContractNotPresent))
	assert.False(t, store.Contains("ZB"))
	assert.Panics(t, func() { store.MustGet("ZB") })
}

func TestContractStore_PointValue(t *testing.T) {
	store := CreateDefaultContractStore()

	tests := []struct {
		contract string
		expected string
		found    bool
	}{
		{contract: "CON.F.US.MNQ.Z25", expected: "2", found: true},
		{contract: "CON.F.US.MES.H26", expected: "5", found: true},
		{contract: "CON.F.US.ENQ.Z25", expected: "20", found: true},
		{contract: "CON.F.US.MYM.Z25", expected: "0.5", found: true},
		{contract: "CON.F.US.ZB.Z25", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.contract, func(t *testing.T) {
			value, ok := store.PointValue(tt.contract)
			require.Equal(t, tt.found, ok)
			if ok {
				assert.True(t, fixed.MustParse(tt.expected).Eq(value), "got %s", value)
			}
		})
	}
}

func TestContractStore_With(t *testing.T) {
	store := CreateDefaultContractStore().With(
		ContractInfo{Symbol: "mnq", PointValue: fixed.FromInt(3, 0)},
		ContractInfo{Symbol: "ZB", PointValue: fixed.FromInt(1000, 0)},
	)

	assert.Equal(t, CreateDefaultContractStore().Len()+1, store.Len())
	assert.True(t, store.MustGet("MNQ").PointValue.Eq(fixed.FromInt(3, 0)))
	assert.True(t, store.Contains("ZB"))
}
