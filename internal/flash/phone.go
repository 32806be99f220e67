package flash

import "strings"

// DefaultCountryCode is assumed when a phone verification is attempted
// without a preceding code request carrying a country.
const DefaultCountryCode = "JM"

// countryCallingCodes maps ISO country codes to E.164 calling-code prefixes
// for the markets Flash serves. Unknown countries fall back to +1.
var countryCallingCodes = map[string]string{
	"JM": "+1",
	"US": "+1",
	"CA": "+1",
	"GB": "+44",
	"SV": "+503",
}

const fallbackCallingCode = "+1"

// normalizePhone reduces a user-entered phone number to E.164-style digits:
// everything but digits and a leading + is stripped, and the country's
// calling code is prepended when the number is not already international.
func normalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	callingCode, ok := countryCallingCodes[countryCode]
	if !ok {
		callingCode = fallbackCallingCode
	}
	return callingCode + normalized
}
