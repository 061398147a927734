package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paddlepoint/coaching-engine/core"
)

func TestHourlyFee_RoundsToCents(t *testing.T) {
	cases := []struct {
		rate    string
		minutes int64
		want    string
	}{
		{"80.00", 60, "80.00"},
		{"80.00", 90, "120.00"},
		{"120.00", 90, "180.00"},
		{"160.00", 30, "80.00"},
		{"80.00", 45, "60.00"},
		// 50 minutes at 80.00/h is 66.666..., rounds half-up to cents.
		{"80.00", 50, "66.67"},
		{"100.00", 20, "33.33"},
	}
	for _, tc := range cases {
		got := core.HourlyFee(core.MustMoney(tc.rate), tc.minutes)
		require.Equal(t, tc.want, got.StringFixed(2),
			"rate %s for %d minutes", tc.rate, tc.minutes)
	}
}

func TestRoundMoney_HalfUp(t *testing.T) {
	require.Equal(t, "1.13", core.RoundMoney(core.MustMoney("1.125")).StringFixed(2))
	require.Equal(t, "1.12", core.RoundMoney(core.MustMoney("1.124")).StringFixed(2))
}

func TestMustMoney_PanicsOnGarbage(t *testing.T) {
	require.Panics(t, func() { core.MustMoney("not money") })
}
