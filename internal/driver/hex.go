package driver

import (
	"encoding/hex"
	"strings"
	"unicode"
)

// StatusOK is the nominal ISO 7816 status word.
const StatusOK = "9000"

// NormalizeHex strips all whitespace from a hex string and upper-cases it.
func NormalizeHex(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
}

// ValidHex reports whether s (already normalized) decodes as whole bytes.
func ValidHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NormalizeStatusWord returns sw as exactly four upper-case hex characters,
// or "" if it cannot be read as a two-byte status word ("90 00" -> "9000").
func NormalizeStatusWord(sw string) string {
	sw = NormalizeHex(sw)
	if len(sw) != 4 || !ValidHex(sw) {
		return ""
	}
	return sw
}

// TraceEntry is one APDU exchange recorded by the driver.
type TraceEntry struct {
	TX string `json:"tx"`
	RX string `json:"rx"`
	SW string `json:"sw,omitempty"`
}

// Normalized returns a copy with hex fields stripped of whitespace and the
// status word either valid or empty.
func (e TraceEntry) Normalized() TraceEntry {
	return TraceEntry{
		TX: NormalizeHex(e.TX),
		RX: NormalizeHex(e.RX),
		SW: NormalizeStatusWord(e.SW),
	}
}

// Nominal reports whether the exchange ended with 9000.
func (e TraceEntry) Nominal() bool {
	return NormalizeStatusWord(e.SW) == StatusOK
}
