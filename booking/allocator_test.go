package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/booking"
)

func TestOverlaps_HalfOpenIntervals(t *testing.T) {
	base := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	cases := []struct {
		name           string
		s1, e1, s2, e2 time.Time
		want           bool
	}{
		{"identical", at(0), at(1), at(0), at(1), true},
		{"contained", at(0), at(3), at(1), at(2), true},
		{"partial overlap", at(0), at(2), at(1), at(3), true},
		{"back to back", at(0), at(1), at(1), at(2), false},
		{"back to back reversed", at(1), at(2), at(0), at(1), false},
		{"disjoint", at(0), at(1), at(2), at(3), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, booking.Overlaps(tc.s1, tc.e1, tc.s2, tc.e2))
			// Overlap is symmetric.
			require.Equal(t, tc.want, booking.Overlaps(tc.s2, tc.e2, tc.s1, tc.e1))
		})
	}
}

func TestTariff_UnknownLevelIsConfigurationError(t *testing.T) {
	tariff := booking.DefaultTariff()

	rate, err := tariff.HourlyRate("10")
	require.NoError(t, err)
	require.Equal(t, "80.00", rate.StringFixed(2))

	_, err = tariff.HourlyRate("99")
	require.Error(t, err)
}
