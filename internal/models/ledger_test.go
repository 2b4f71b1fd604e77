package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryType_Valid(t *testing.T) {
	assert.True(t, EntryDeposit.Valid())
	assert.True(t, EntryFreeze.Valid())
	assert.False(t, EntryType("transfer").Valid())
	assert.False(t, EntryType("").Valid())
}

func TestEntryEffects_SignedTypes(t *testing.T) {
	// Only the administrative overrides carry their direction in snapshots.
	for entryType, effect := range EntryEffects {
		if effect.Signed() {
			assert.True(t, entryType.AllowsNegativeBalance(),
				"signed type %s must be an administrative override", entryType)
		} else {
			assert.False(t, entryType.AllowsNegativeBalance(),
				"directional type %s must respect the funds guard", entryType)
		}
	}
}

func TestEntryEffects_FreezePairIsSymmetric(t *testing.T) {
	freeze := EntryFreeze.Effect()
	unfreeze := EntryUnfreeze.Effect()
	assert.Equal(t, -freeze.Balance, unfreeze.Balance)
	assert.Equal(t, -freeze.Frozen, unfreeze.Frozen)
}

func TestMetadata_RoundTrip(t *testing.T) {
	m := Metadata{"provider": "yookassa", "manual": true}

	v, err := m.Value()
	assert.NoError(t, err)

	var decoded Metadata
	assert.NoError(t, decoded.Scan(v))
	assert.Equal(t, "yookassa", decoded["provider"])
	assert.Equal(t, true, decoded["manual"])
}

func TestNilMetadata_Value(t *testing.T) {
	var m Metadata
	v, err := m.Value()
	assert.NoError(t, err)
	assert.Nil(t, v)
}
