package auth

import "github.com/nyaruka/phonenumbers"

// defaultPhoneRegion is assumed when the number carries no country
// prefix.
const defaultPhoneRegion = "US"

// NormalizePhone formats a phone number as E.164 when it parses;
// otherwise the input is kept as provided. Profile phone numbers are
// informational, so a number we cannot parse is not an error.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}

	num, err := phonenumbers.Parse(raw, defaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}
