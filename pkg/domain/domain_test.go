package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycflow/pkg/domain-errors"
)

func TestParseCaseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCaseID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCaseID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCaseID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseCaseID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, CaseID(valid), id)
	})
}

func TestParseVendorID(t *testing.T) {
	for _, v := range AllVendors() {
		parsed, err := ParseVendorID(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}

	_, err := ParseVendorID("omega")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestAllVendors_LexicographicOrder(t *testing.T) {
	vendors := AllVendors()
	for i := 1; i < len(vendors); i++ {
		assert.Less(t, vendors[i-1].String(), vendors[i].String())
	}
}

func TestCapabilitySet_Covers(t *testing.T) {
	vendor := NewCapabilitySet(CapDocuments, CapBiometric, CapPEPSanctions, CapRegionBR)

	assert.True(t, vendor.Covers(NewCapabilitySet(CapDocuments)))
	assert.True(t, vendor.Covers(NewCapabilitySet(CapDocuments, CapBiometric)))
	assert.True(t, vendor.Covers(NewCapabilitySet()), "empty requirement is always covered")
	assert.False(t, vendor.Covers(NewCapabilitySet(CapRegionINTL)))
	assert.False(t, vendor.Covers(NewCapabilitySet(CapDocuments, CapRegionINTL)))
}

func TestParseCapabilitySet(t *testing.T) {
	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseCapabilitySet(nil)
		require.Error(t, err)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseCapabilitySet([]string{"documents", "astrology"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("deduplicates and sorts", func(t *testing.T) {
		set, err := ParseCapabilitySet([]string{"biometric", "documents", "biometric"})
		require.NoError(t, err)
		assert.Equal(t, []string{"biometric", "documents"}, set.Strings())
	})
}

func TestMoney(t *testing.T) {
	t.Run("round trips two decimal places", func(t *testing.T) {
		d, err := ParseBRL("2.90")
		require.NoError(t, err)
		assert.Equal(t, "2.90", FormatBRL(d))
	})

	t.Run("pads missing fraction", func(t *testing.T) {
		assert.Equal(t, "1000.00", FormatBRL(MustBRL("1000")))
	})

	t.Run("rejects negative", func(t *testing.T) {
		_, err := ParseBRL("-1.00")
		require.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseBRL("two reais")
		require.Error(t, err)
	})
}
