package rating

import "errors"

// Hourly pricing in cents. Fixed business constants; changing them only
// affects entries sealed afterwards because splits freeze at seal.
const (
	CaregiverRateCents = 2800

	ClientRateReferredCents = 4000
	ClientRateStandardCents = 4500

	MarketingRateCents = 100
	TrainingRateCents  = 50
)

var ErrInvalidDuration = errors.New("invalid_duration")

// CommissionSplit is one sealed visit's economics in integer cents.
// Components always satisfy caregiver + marketing + training + agency ==
// client total.
type CommissionSplit struct {
	CaregiverCents   int64
	MarketingCents   int64
	TrainingCents    int64
	AgencyCents      int64
	ClientTotalCents int64
}

// Compute prices a visit from its clock window and snapshotted
// attribution. Each component scales its hourly rate by minutes worked
// with round-half-up at the final cent; the agency bucket takes the
// remainder so no other party ever absorbs rounding drift.
func Compute(minutes int64, hasReferral, hasTrainingCenter bool) (CommissionSplit, error) {
	if minutes <= 0 {
		return CommissionSplit{}, ErrInvalidDuration
	}

	clientRate := int64(ClientRateStandardCents)
	marketingRate := int64(0)
	if hasReferral {
		clientRate = ClientRateReferredCents
		marketingRate = MarketingRateCents
	}
	trainingRate := int64(0)
	if hasTrainingCenter {
		trainingRate = TrainingRateCents
	}

	split := CommissionSplit{
		CaregiverCents:   scale(CaregiverRateCents, minutes),
		MarketingCents:   scale(marketingRate, minutes),
		TrainingCents:    scale(trainingRate, minutes),
		ClientTotalCents: scale(clientRate, minutes),
	}
	split.AgencyCents = split.ClientTotalCents - split.CaregiverCents - split.MarketingCents - split.TrainingCents

	return split, nil
}

// scale converts an hourly rate to the worked duration, rounding half up
// at the final cent.
func scale(hourlyRateCents, minutes int64) int64 {
	return (hourlyRateCents*minutes + 30) / 60
}
