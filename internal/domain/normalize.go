package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxMeasureAge bounds how far in the past a client-reported observation
// timestamp is trusted. Older values (and future values) are replaced by the
// ingestion time.
const MaxMeasureAge = 60 * 24 * time.Hour

// timeLayouts are tried in order when parsing client timestamps. Clients are
// expected to send ISO-8601 with an offset; the naive form is accepted and
// read as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// NormalizeTime canonicalizes a client-reported timestamp against the trusted
// time now. Unparseable, absent, future, or stale values are all replaced by
// now; no error reaches the caller. The second return is true only when a
// non-empty value failed to parse, so callers can record the discard.
func NormalizeTime(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, false
	}

	var parsed time.Time
	var err error
	for _, layout := range timeLayouts {
		parsed, err = time.Parse(layout, value)
		if err == nil {
			break
		}
	}
	if err != nil {
		return now, true
	}

	parsed = parsed.UTC()
	if parsed.After(now) || parsed.Before(now.Add(-MaxMeasureAge)) {
		return now, false
	}
	return parsed, false
}

// MaxWifiKeyLen is the length of a normalized BSSID. Longer keys are legacy
// SHA-1 identifiers that must not be accepted.
const MaxWifiKeyLen = 12

var wifiKeyReplacer = strings.NewReplacer(":", "", "-", "", ".", "")

// NormalizeWifiKey canonicalizes an access-point key: lowercase with
// separator characters stripped, e.g. "AA:BB:CC:DD:EE:FF" -> "aabbccddeeff".
func NormalizeWifiKey(key string) string {
	return strings.ToLower(wifiKeyReplacer.Replace(key))
}

// NormalizeWifiSignals returns a copy of the list with every key normalized.
// If any normalized key exceeds MaxWifiKeyLen the whole list is rejected and
// ok is false: acceptance is all-or-nothing per observation.
func NormalizeWifiSignals(wifis []WifiSignal) ([]WifiSignal, bool) {
	out := make([]WifiSignal, len(wifis))
	for i, w := range wifis {
		w.Key = NormalizeWifiKey(w.Key)
		if len(w.Key) > MaxWifiKeyLen {
			return nil, false
		}
		out[i] = w
	}
	return out, true
}

// ToPreciseInt converts a decimal-degree string into a fixed-precision
// integer (degrees * 10^7). The conversion is done by string decomposition
// rather than float multiplication so values round-trip exactly.
func ToPreciseInt(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("parse coordinate: empty value")
	}

	negative := false
	switch value[0] {
	case '-':
		negative = true
		value = value[1:]
	case '+':
		value = value[1:]
	}

	intPart, fracPart, _ := strings.Cut(value, ".")
	if intPart == "" {
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", value, err)
	}

	// Pad or truncate the fraction to exactly 7 digits.
	if len(fracPart) > 7 {
		fracPart = fracPart[:7]
	}
	fracPart += strings.Repeat("0", 7-len(fracPart))
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", value, err)
	}

	precise := whole*PrecisionFactor + frac
	if negative {
		precise = -precise
	}
	return precise, nil
}

// FloorDiv divides rounding toward negative infinity. Bucketing must floor
// rather than truncate so coordinates south of the equator and west of
// Greenwich land in stable buckets.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Bucket bins a precise coordinate pair for the given grid.
func Bucket(lat, lon int64, grid GridKey) TileBucket {
	factor := grid.Factor()
	return TileBucket{Lat: FloorDiv(lat, factor), Lon: FloorDiv(lon, factor)}
}
