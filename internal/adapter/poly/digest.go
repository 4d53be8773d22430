package poly

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// digestScale is the number of decimal places every price/size is rounded
// and zero-padded to before hashing (spec §4.4: "no trailing zeros beyond
// the tick precision"). Polymarket prices/sizes are USDC atomic-unit
// denominated (6 decimals); the same precision is used for the digest
// regardless of a market's configured tick size so that the digest
// algorithm never has to be renegotiated when tick size changes.
const digestScale = 6

// levelDelim separates price:size within one side; sideDelim separates the
// bid section from the ask section (spec §4.4's "fixed delimiter" and
// "section delimiter").
const (
	levelDelim = "|"
	sideDelim  = "#"
)

// Digest computes the canonical book digest (C4's "canonical digest
// function"): bids then asks, each level rendered as "price:size" in
// ladder iteration order, hashed with SHA-256. The algorithm choice is
// fixed for this deployment and recorded in session metadata (recorder.go)
// so that recorded logs remain self-describing.
func Digest(bids, asks []adapter.PriceLevel) string {
	var b strings.Builder
	writeSide(&b, bids)
	b.WriteString(sideDelim)
	writeSide(&b, asks)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSide(b *strings.Builder, levels []adapter.PriceLevel) {
	for i, lvl := range levels {
		if i > 0 {
			b.WriteString(levelDelim)
		}
		b.WriteString(canonicalDecimal(lvl.Price))
		b.WriteByte(':')
		b.WriteString(canonicalDecimal(lvl.Size))
	}
}

// canonicalDecimal renders d with an explicit decimal point, exactly
// digestScale fractional digits, and no more integer-part leading zeros
// than the single mandatory one (spec §4.4).
func canonicalDecimal(d adapter.FixedDecimal) string {
	return d.Round(digestScale).StringFixed(digestScale)
}
