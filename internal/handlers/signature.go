package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// SignatureHeader carries the provider's HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Signature"

var (
	ErrNoCallbackSecret  = errors.New("callback secret is not configured")
	ErrMissingSignature  = errors.New("callback signature is missing")
	ErrInvalidSignature  = errors.New("callback signature is not valid hex")
	ErrSignatureMismatch = errors.New("callback signature mismatch")
)

// SignCallback returns the header value a provider sends with body.
func SignCallback(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks signature against body. An empty secret rejects
// everything.
func VerifyCallback(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return ErrNoCallbackSecret
	}
	if signature == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
