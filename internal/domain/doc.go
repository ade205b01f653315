// Package domain models geolocation observations submitted by client devices.
//
// # Coordinates
//
// Latitude and longitude travel on the wire as decimal-degree strings and are
// stored as fixed-precision integers (degrees scaled by 10^7), converted by
// string decomposition so no float rounding leaks into storage. See
// [ToPreciseInt].
//
// # Tile grids
//
// Observation density is aggregated into two histograms over the same
// coordinate space: a fine grid of roughly 10m x 10m tiles and a coarse grid
// of roughly 10km x 10km tiles, whose bucket factor is exactly 1000x the fine
// one. A bucket is the floor division of the precise coordinate by the grid
// factor; floor, not truncation, so negative coordinates bin correctly.
//
// # Time trust window
//
// Client-reported observation times are only trusted within the window
// [now-60d, now]. Anything outside it, and anything unparseable or absent,
// is silently replaced by the ingestion time. See [NormalizeTime].
//
// # Wi-Fi keys
//
// Access-point keys are normalized to lowercase with ":", "-", and "."
// stripped. A normalized BSSID is 12 characters; longer values are legacy
// SHA-1 identifiers, and a single one poisons the observation's entire Wi-Fi
// list (no dispatch, no stored blob). See [NormalizeWifiSignals].
//
// # Radio types
//
// The radio type string maps through a fixed enumeration (gsm=0, cdma=1,
// umts=2, lte=3); anything else becomes the sentinel -1.
package domain
