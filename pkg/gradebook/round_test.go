package gradebook

import (
	"math/big"
	"testing"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   *big.Rat
		want string
	}{
		{big.NewRat(16625, 1000), "1663/100"},
		{big.NewRat(16624, 1000), "1662/100"},
		{big.NewRat(1005, 1000), "101/100"},
		{big.NewRat(-1005, 1000), "-101/100"},
		{big.NewRat(20, 1), "20/1"},
		{big.NewRat(0, 1), "0/1"},
	}
	for _, tc := range cases {
		got := roundHalfUp(tc.in, 2)
		want, _ := new(big.Rat).SetString(tc.want)
		if got.Cmp(want) != 0 {
			t.Errorf("roundHalfUp(%s) = %s, want %s", tc.in.RatString(), got.RatString(), want.RatString())
		}
	}
}
