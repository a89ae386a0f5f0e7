package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeReferredFullHours(t *testing.T) {
	split, err := Compute(15*60, true, false)
	require.NoError(t, err)

	assert.Equal(t, int64(60000), split.ClientTotalCents)
	assert.Equal(t, int64(42000), split.CaregiverCents)
	assert.Equal(t, int64(1500), split.MarketingCents)
	assert.Equal(t, int64(0), split.TrainingCents)
	assert.Equal(t, int64(16500), split.AgencyCents)
}

func TestComputeStandardWithTrainingCenter(t *testing.T) {
	split, err := Compute(37, false, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2775), split.ClientTotalCents)
	assert.Equal(t, int64(1727), split.CaregiverCents)
	assert.Equal(t, int64(0), split.MarketingCents)
	assert.Equal(t, int64(31), split.TrainingCents)
	assert.Equal(t, int64(1017), split.AgencyCents)
}

func TestComputeAgencyAbsorbsRoundingDrift(t *testing.T) {
	for minutes := int64(1); minutes <= 600; minutes++ {
		for _, hasReferral := range []bool{false, true} {
			for _, hasTraining := range []bool{false, true} {
				split, err := Compute(minutes, hasReferral, hasTraining)
				require.NoError(t, err)

				sum := split.CaregiverCents + split.MarketingCents + split.TrainingCents + split.AgencyCents
				require.Equal(t, split.ClientTotalCents, sum,
					"minutes=%d referral=%v training=%v", minutes, hasReferral, hasTraining)
			}
		}
	}
}

func TestComputeComponentRounding(t *testing.T) {
	// 1 minute: caregiver 2800/60 = 46.67 rounds to 47,
	// client total 4500/60 = 75.
	split, err := Compute(1, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(47), split.CaregiverCents)
	assert.Equal(t, int64(75), split.ClientTotalCents)
	assert.Equal(t, int64(28), split.AgencyCents)
}

func TestComputeRejectsNonPositiveMinutes(t *testing.T) {
	_, err := Compute(0, true, true)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = Compute(-30, false, false)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
