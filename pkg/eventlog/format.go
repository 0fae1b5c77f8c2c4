package eventlog

import (
	"strings"
	"unicode/utf8"
)

const (
	maskVisibleSuffix = 4

	// TruncationMarker is appended to payloads cut at the configured
	// maximum byte length.
	TruncationMarker = "[TRUNCATED]"

	// DefaultMaxPayloadBytes caps request/response payload captures.
	DefaultMaxPayloadBytes = 32 * 1024
)

// MaskLast4 masks a sensitive value down to its last four characters.
// Values of four characters or fewer are fully masked.
//
// Example: MaskLast4("4111111111111111") -> "***1111".
func MaskLast4(s string) string {
	runes := []rune(s)
	if len(runes) <= maskVisibleSuffix {
		return "****"
	}

	return "***" + string(runes[len(runes)-maskVisibleSuffix:])
}

// GenerateSummary composes the standard human-readable summary line:
// "{action}[ {target}] - {outcome}[ ({details})]".
//
// Target and details are omitted when empty.
//
// Example: GenerateSummary("charge", "card", "declined", "insufficient funds")
// -> "charge card - declined (insufficient funds)".
func GenerateSummary(action, target, outcome, details string) string {
	var b strings.Builder

	b.WriteString(action)

	if target != "" {
		b.WriteString(" ")
		b.WriteString(target)
	}

	b.WriteString(" - ")
	b.WriteString(outcome)

	if details != "" {
		b.WriteString(" (")
		b.WriteString(details)
		b.WriteString(")")
	}

	return b.String()
}

// TruncatePayload cuts s to at most maxBytes UTF-8 bytes, appending
// TruncationMarker when anything was removed. Strings already within the
// limit are returned verbatim. The cut never splits a multi-byte rune, and
// the returned string (marker included) never exceeds maxBytes.
func TruncatePayload(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}

	if len(s) <= maxBytes {
		return s
	}

	keep := maxBytes - len(TruncationMarker)
	if keep < 0 {
		keep = 0
	}

	// Back up to a rune boundary so the cut stays valid UTF-8.
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}

	out := s[:keep] + TruncationMarker
	if len(out) > maxBytes {
		// Pathological limit smaller than the marker itself.
		return out[:maxBytes]
	}

	return out
}
