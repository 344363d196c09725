package model

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// CanonicalPhone normalises a phone number to E.164. Input must be in
// international form, either with a leading '+' or an "00" prefix; the usual
// separators are accepted.
func CanonicalPhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", Invalid("phone is required")
	}
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if !strings.HasPrefix(s, "+") {
		return "", Invalid("phone must be in international format").With("phone", raw)
	}

	num, err := phonenumbers.Parse(s, "")
	if err != nil {
		return "", Invalid("phone is not a valid E.164 number").With("phone", raw)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", Invalid("phone is not a valid E.164 number").With("phone", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
