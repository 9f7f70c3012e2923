package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_Formula(t *testing.T) {
	cases := []struct {
		name      string
		in        Inputs
		wantScore float64
		wantBand  Band
	}{
		{
			name: "person only, guardian, day, far from perimeter",
			in: Inputs{
				Channels: Channels{Person: true},
				Mode:     ModeGuardian,
				DistanceToPerimeterM: 10,
			},
			wantScore: 1.00,
			wantBand:  BandHigh,
		},
		{
			name: "vehicle only, stealth",
			in: Inputs{
				Channels: Channels{Vehicle: true},
				Mode:     ModeStealth,
				DistanceToPerimeterM: 10,
			},
			wantScore: 0.70 * 0.70,
			wantBand:  BandMedium,
		},
		{
			name: "linger with pet suppression, perimeter mode, near fence, night",
			in: Inputs{
				Channels: Channels{Linger: true, Pet: true},
				Mode:     ModePerimeter,
				DistanceToPerimeterM: 1.0,
				IsNight:              true,
			},
			wantScore: 0.15 * 0.40 * 1.25 * 1.15 * 1.30,
			wantBand:  BandLow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.in)
			assert.InDelta(t, tc.wantScore, got.Score, 1e-9)
			assert.Equal(t, tc.wantBand, got.Band)
		})
	}
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	got := Score(Inputs{
		Channels: Channels{Person: true, Vehicle: true, Linger: true},
		Mode:     ModePerimeter,
		DistanceToPerimeterM: 0.1,
		IsNight:              true,
	})
	require.LessOrEqual(t, got.Score, 1.0)
	require.GreaterOrEqual(t, got.Score, 0.0)
}

func TestScore_DeterministicAcrossCalls(t *testing.T) {
	in := Inputs{
		Channels: Channels{Person: true, Vehicle: true},
		Mode:     ModeGuardian,
		DistanceToPerimeterM: 2.0,
		IsNight:              true,
	}
	a := Score(in)
	b := Score(in)
	assert.Equal(t, a, b)
}

func TestPriorityScore_Monotonicity(t *testing.T) {
	low := PriorityScore(PriorityInputs{
		Priority:           1,
		MotionScore:        0.1,
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
		AgeMinutes:         59,
		TierOrdinal:        TierOrdinalStandard,
	})
	high := PriorityScore(PriorityInputs{
		Priority:           3,
		Person:             true,
		Vehicle:            true,
		MotionScore:        0.9,
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
		AgeMinutes:         0,
		TierOrdinal:        TierOrdinalEnterprise,
	})
	assert.Greater(t, high, low)
}

func TestPriorityScore_RecencyBonusDecaysToZero(t *testing.T) {
	in := PriorityInputs{
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
		AgeMinutes:         60,
	}
	assert.InDelta(t, 0.0, PriorityScore(in), 1e-9)

	in.AgeMinutes = 120
	assert.InDelta(t, 0.0, PriorityScore(in), 1e-9)
}
