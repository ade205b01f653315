package domain

import "time"

// Coordinates are fixed-precision integers: decimal degrees scaled by 10^7.
// Tile buckets divide the precise coordinate space by a grid factor; the
// coarse factor is exactly 1000x the fine factor so one coarse tile covers
// a 1000x1000 block of fine tiles.
const (
	PrecisionFactor = 10000000

	FineGridFactor   = 1000    // ~10m x 10m tiles
	CoarseGridFactor = 1000000 // ~10km x 10km tiles
)

// GridKey tags a tile row with the grid it belongs to. Both grids share one
// table and are distinguished only by this key.
type GridKey int

const (
	GridFine   GridKey = 0
	GridCoarse GridKey = 1
)

func (g GridKey) String() string {
	if g == GridCoarse {
		return "location_10km"
	}
	return "location"
}

// Factor returns the bucket divisor for the grid.
func (g GridKey) Factor() int64 {
	if g == GridCoarse {
		return CoarseGridFactor
	}
	return FineGridFactor
}

// TileBucket identifies one histogram cell within a grid.
type TileBucket struct {
	Lat int64
	Lon int64
}

// RadioUnknown is the sentinel code for unrecognized radio type strings.
const RadioUnknown = -1

var radioCodes = map[string]int{
	"gsm":  0,
	"cdma": 1,
	"umts": 2,
	"lte":  3,
}

// RadioCode maps a radio type string to its integer code, RadioUnknown for
// anything outside the fixed enumeration.
func RadioCode(radio string) int {
	if code, ok := radioCodes[radio]; ok {
		return code
	}
	return RadioUnknown
}

// Nickname length bounds; values outside them resolve no user and the batch
// proceeds anonymously.
const (
	NicknameMinLen = 3
	NicknameMaxLen = 128
)

// Score keys understood by the scoring collaborator.
const (
	ScoreKeyLocation    = "location"
	ScoreKeyNewLocation = "new_location"
)

// User is a pseudonymous submitter, created lazily on first valid nickname.
type User struct {
	ID       int64
	Nickname string
}

// CellTower describes one observed cell-tower signal.
type CellTower struct {
	Radio  int `json:"radio"`
	MCC    int `json:"mcc"`
	MNC    int `json:"mnc"`
	LAC    int `json:"lac"`
	CID    int `json:"cid"`
	PSC    int `json:"psc,omitempty"`
	ASU    int `json:"asu,omitempty"`
	Signal int `json:"signal,omitempty"`
	TA     int `json:"ta,omitempty"`
}

// WifiSignal describes one observed Wi-Fi access point.
type WifiSignal struct {
	Key       string `json:"key"`
	Channel   int    `json:"channel,omitempty"`
	Frequency int    `json:"frequency,omitempty"`
	Signal    int    `json:"signal,omitempty"`
}

// SubmitItem is one observation from a validated submit batch, before
// normalization. Lat and Lon are decimal-degree strings as received on the
// wire; Time is the raw client-reported timestamp.
type SubmitItem struct {
	Time             string
	Lat              string
	Lon              string
	Accuracy         int
	Altitude         int
	AltitudeAccuracy int
	Radio            string
	Cell             []CellTower
	Wifi             []WifiSignal
}

// Measure is one persisted observation. Immutable after ingestion except for
// the single blob update that attaches serialized signal lists.
type Measure struct {
	ID               int64
	Created          time.Time
	Time             time.Time
	Lat              int64
	Lon              int64
	Accuracy         int
	Altitude         int
	AltitudeAccuracy int
	Radio            int
	Cell             []byte
	Wifi             []byte
}

// MeasureData is the public view of a measure embedded in enrichment task
// payloads. Timestamps are RFC3339 strings for a stable wire encoding.
type MeasureData struct {
	ID               int64  `json:"id"`
	Created          string `json:"created"`
	Lat              int64  `json:"lat"`
	Lon              int64  `json:"lon"`
	Time             string `json:"time"`
	Accuracy         int    `json:"accuracy"`
	Altitude         int    `json:"altitude"`
	AltitudeAccuracy int    `json:"altitude_accuracy"`
	Radio            int    `json:"radio"`
}

// Data returns the measure's public fields for dispatch payloads.
func (m *Measure) Data() MeasureData {
	return MeasureData{
		ID:               m.ID,
		Created:          m.Created.UTC().Format(time.RFC3339),
		Lat:              m.Lat,
		Lon:              m.Lon,
		Time:             m.Time.UTC().Format(time.RFC3339),
		Accuracy:         m.Accuracy,
		Altitude:         m.Altitude,
		AltitudeAccuracy: m.AltitudeAccuracy,
		Radio:            m.Radio,
	}
}
