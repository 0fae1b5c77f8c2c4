package eventlog

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	traceIDBytes = 16
	spanIDBytes  = 8

	correlationRandomLength = 8
	batchRandomLength       = 6

	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewCorrelationID generates a process-instance identifier of the form
// "{prefix}-{base36 millis}-{8 base36 random}".
//
// The millisecond component keeps IDs roughly sortable by creation time,
// which makes them pleasant to eyeball in logs and dashboards.
//
// Example: NewCorrelationID("payment") -> "payment-mfqw3k2p-a7x9q0b3".
func NewCorrelationID(prefix string) string {
	millis := strconv.FormatInt(time.Now().UnixMilli(), 36)

	return prefix + "-" + millis + "-" + randomBase36(correlationRandomLength)
}

// NewTraceID generates a W3C-style trace identifier: 32 lowercase hex
// characters from a cryptographically random source.
func NewTraceID() string {
	return randomHex(traceIDBytes)
}

// NewSpanID generates a span identifier: 16 lowercase hex characters.
func NewSpanID() string {
	return randomHex(spanIDBytes)
}

// NewBatchID generates a bulk-upload group identifier of the form
// "batch-{YYYYMMDD}-{source}-{6 base36 random}".
//
// Example: NewBatchID("sftp-import") -> "batch-20250825-sftp-import-k3x9q0".
func NewBatchID(source string) string {
	day := time.Now().UTC().Format("20060102")

	return "batch-" + day + "-" + source + "-" + randomBase36(batchRandomLength)
}

// randomHex returns n random bytes as 2n lowercase hex characters.
// Falls back to time-derived entropy if the system random source fails.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fallbackHex(n)
	}

	return hex.EncodeToString(buf)
}

// randomBase36 returns n random characters from the base36 alphabet.
func randomBase36(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// Time-derived fallback keeps IDs flowing when the random source
		// is unavailable; uniqueness degrades but format is preserved.
		var b strings.Builder

		seed := time.Now().UnixNano()
		for range n {
			b.WriteByte(base36Alphabet[seed%36])
			seed /= 7
			seed += time.Now().UnixNano() % 1000003
		}

		return b.String()
	}

	for i, c := range buf {
		buf[i] = base36Alphabet[int(c)%36]
	}

	return string(buf)
}

// fallbackHex builds a hex string from timestamp entropy when crypto/rand
// fails. Same length contract as randomHex.
func fallbackHex(n int) string {
	var b strings.Builder

	for b.Len() < n*2 {
		b.WriteString(strconv.FormatInt(time.Now().UnixNano(), 16))
	}

	return b.String()[:n*2]
}
