package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

func TestThresholdDefaults(t *testing.T) {
	th := NewThresholds()

	tests := []struct {
		name     string
		expected float64
	}{
		{KeyVolumeFactor, 10.0},
		{KeyPctChangeThreshold, 0.5},
		{KeyIQRMultiplier, 3.0},
		{KeyFlatPriceMinVolume, 1.0},
		{KeySpikeFactor, 10.0},
		{KeyDiscontinuedGapDays, 20},
		{KeyMaxFfillGapDays, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := th.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestThresholdSetAndGet(t *testing.T) {
	th := NewThresholds()
	require.NoError(t, th.Set(KeyVolumeFactor, 25))

	got, err := th.Get(KeyVolumeFactor)
	require.NoError(t, err)
	assert.Equal(t, 25.0, got)
}

func TestThresholdUnknownKey(t *testing.T) {
	th := NewThresholds()

	_, err := th.Get("typo_factor")
	var keyErr *models.ConfigKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "typo_factor", keyErr.Key)

	assert.Error(t, th.Set("typo_factor", 1))
}

func TestSnapshotIsFrozen(t *testing.T) {
	th := NewThresholds()
	snap := th.Snapshot()

	require.NoError(t, th.Set(KeyIQRMultiplier, 99))

	got, err := snap.Get(KeyIQRMultiplier)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
	assert.Equal(t, 99.0, th.Snapshot().MustGet(KeyIQRMultiplier))
}

func TestSnapshotMustGetPanicsOnUnknownKey(t *testing.T) {
	snap := NewThresholds().Snapshot()
	assert.Panics(t, func() { snap.MustGet("typo_factor") })
}