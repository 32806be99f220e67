package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		phone   string
		country string
		want    string
	}{
		{"876-425-0250", "JM", "+18764250250"},
		{"(212) 555-0123", "US", "+12125550123"},
		{"7911 123456", "GB", "+447911123456"},
		{"7000-1234", "SV", "+50370001234"},
		// Already international numbers pass through untouched.
		{"+18764250250", "JM", "+18764250250"},
		{"+44 7911 123456", "JM", "+447911123456"},
		// Unknown countries fall back to +1.
		{"5551234", "ZZ", "+15551234"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizePhone(tc.phone, tc.country), "%s / %s", tc.phone, tc.country)
	}
}
