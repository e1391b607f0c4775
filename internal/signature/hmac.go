// Package signature verifies Meta webhook push signatures.
//
// Meta signs each delivery with HMAC over the raw request body using the
// app secret, and sends the digest in X-Hub-Signature (SHA-1) and/or
// X-Hub-Signature-256 (SHA-256). Verification must use the exact bytes
// received on the wire: re-serializing the parsed JSON changes whitespace
// and key order and silently breaks the comparison.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Verify validates the raw request body against the provided signature
// headers using the shared app secret.
//
// The SHA-256 header takes precedence when present; SHA-1 is only used
// when no SHA-256 header was sent. Headers may carry a "sha1="/"sha256="
// prefix or a bare hex digest; the prefix is stripped without checking
// it against the digest actually computed (providers have shipped both
// spellings).
//
// Returns false, never an error, on a missing secret, missing headers,
// or undecodable hex. Comparison is constant-time.
func Verify(body []byte, sigSHA1, sigSHA256, secret string) bool {
	// The key is the trimmed secret: a configured value with stray
	// whitespace signs the same as its trimmed form.
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		return false
	}

	var expected []byte
	var provided string
	switch {
	case sigSHA256 != "":
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		expected = mac.Sum(nil)
		provided = stripPrefix(sigSHA256)
	case sigSHA1 != "":
		mac := hmac.New(sha1.New, key)
		mac.Write(body)
		expected = mac.Sum(nil)
		provided = stripPrefix(sigSHA1)
	default:
		return false
	}

	actual, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(expected, actual) == 1
}

// stripPrefix accepts "sha1=abcd" / "sha256=abcd" or a bare "abcd".
func stripPrefix(sig string) string {
	if _, rest, found := strings.Cut(sig, "="); found {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(sig)
}

// ComputeSHA256 computes the hex HMAC-SHA256 digest of body.
// Used by the outbound relay to sign envelopes, and by tests.
func ComputeSHA256(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ComputeSHA1 computes the hex HMAC-SHA1 digest of body.
func ComputeSHA1(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HubHeader formats a hex digest in Meta's X-Hub-Signature-256 style.
func HubHeader(algo, hexSig string) string {
	return algo + "=" + hexSig
}
