package logging

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeyFragments are substrings that, when present in a log attribute
// key, mark the value as secret-bearing: RPC URLs carry API keys in their
// path or query string, and the Slack webhook URL is itself a bearer token.
var sensitiveKeyFragments = []string{
	"rpc_url",
	"webhook",
	"api_key",
	"apikey",
	"secret",
	"token",
	"password",
	"signature",
}

// Redact reports whether a log attribute with this key should have its
// value masked before being written. Structural/identifying fields (chain
// id, block number, addresses, tx hashes) are never masked.
func Redact(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
