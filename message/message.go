// Package message renders relay wire messages: status, packet and raw.
// Builders are pure, they write into caller buffer and return length.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/mesh"
)

const (
	StatusMax = 512
	PacketMax = 1024
	RawMax    = 512

	// Reported with reconstructed packets, radio metrics are unknown.
	PlaceholderSNR  float32 = 12.5
	PlaceholderRSSI int     = -65

	TypePacket = "PACKET"
	TypeRaw    = "RAW"

	StatusOnline  = "online"
	StatusOffline = "offline"

	hashBytes = 8
)

var (
	ErrBufferTooSmall = errors.New("message: buffer too small")
	ErrMissingInput   = errors.New("message: missing input")
)

type Origin struct {
	Name string // origin
	ID   string // origin_id, public key hex
}

type Radio struct {
	FreqMHz      float64
	BandwidthKHz float64
	SF           int
	CR           int
}

func (r Radio) String() string {
	return fmt.Sprintf("%.6f,%.1f,%d,%d", r.FreqMHz, r.BandwidthKHz, r.SF, r.CR)
}

// Stats unavailable values are -1, noise floor -999.
type Stats struct {
	BatteryMV  int `json:"battery_mv"`
	UptimeSecs int `json:"uptime_secs"`
	Errors     int `json:"errors"`
	QueueLen   int `json:"queue_len"`
	NoiseFloor int `json:"noise_floor"`
	TxAirSecs  int `json:"tx_air_secs"`
	RxAirSecs  int `json:"rx_air_secs"`
}

const (
	StatUnavailable       = -1
	NoiseFloorUnavailable = -999
)

func UnavailableStats() Stats {
	return Stats{
		BatteryMV:  StatUnavailable,
		UptimeSecs: StatUnavailable,
		Errors:     StatUnavailable,
		QueueLen:   StatUnavailable,
		NoiseFloor: NoiseFloorUnavailable,
		TxAirSecs:  StatUnavailable,
		RxAirSecs:  StatUnavailable,
	}
}

// StatsSource is optional board collaborator.
type StatsSource interface {
	Stats() Stats
}

type Status struct {
	Status          string
	At              time.Time // zero = clock not synchronized
	Origin          Origin
	Model           string
	FirmwareVersion string
	Radio           Radio
	ClientVersion   string
	Stats           *Stats
}

type Packet struct {
	Origin    Origin
	At        time.Time
	Direction mesh.Direction
	Packet    *mesh.Packet
	// Correlated capture, nil when packet has to be reconstructed.
	Snapshot *mesh.RawSnapshot
}

type Raw struct {
	Origin Origin
	At     time.Time
	Data   []byte
}

type Signal int

const (
	SignalReconstructed Signal = iota
	SignalMeasured
)

func (s Signal) String() string {
	if s == SignalMeasured {
		return "measured"
	}
	return "reconstructed"
}

// PacketSignal tells where raw bytes and radio metrics come from.
func PacketSignal(in Packet) Signal {
	if in.Snapshot != nil && len(in.Snapshot.Raw) != 0 {
		return SignalMeasured
	}
	return SignalReconstructed
}

type statusJSON struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	Origin          string `json:"origin"`
	OriginID        string `json:"origin_id"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
	Radio           string `json:"radio"`
	ClientVersion   string `json:"client_version"`
	Stats           *Stats `json:"stats,omitempty"`
}

type packetJSON struct {
	Origin     string `json:"origin"`
	OriginID   string `json:"origin_id"`
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Direction  string `json:"direction"`
	Time       string `json:"time"`
	Date       string `json:"date"`
	Len        string `json:"len"`
	PacketType string `json:"packet_type"`
	Route      string `json:"route"`
	PayloadLen string `json:"payload_len"`
	Raw        string `json:"raw"`
	SNR        string `json:"SNR"`
	RSSI       string `json:"RSSI"`
	Hash       string `json:"hash"`
	Path       string `json:"path,omitempty"`
}

type rawJSON struct {
	Origin    string `json:"origin"`
	OriginID  string `json:"origin_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Data      string `json:"data"`
}

func BuildStatus(buf []byte, in Status) (int, error) {
	if in.Status == "" {
		return 0, errors.Wrap(errors.Errorf("status empty"), ErrMissingInput)
	}
	return encode(buf, statusJSON{
		Status:          in.Status,
		Timestamp:       FormatTimestamp(in.At),
		Origin:          in.Origin.Name,
		OriginID:        in.Origin.ID,
		Model:           in.Model,
		FirmwareVersion: in.FirmwareVersion,
		Radio:           in.Radio.String(),
		ClientVersion:   in.ClientVersion,
		Stats:           in.Stats,
	})
}

func BuildPacket(buf []byte, in Packet) (int, error) {
	p := in.Packet
	if p == nil {
		return 0, errors.Wrap(errors.Errorf("packet nil"), ErrMissingInput)
	}
	var raw []byte
	snr, rssi := PlaceholderSNR, PlaceholderRSSI
	if PacketSignal(in) == SignalMeasured {
		raw = in.Snapshot.Raw
		snr, rssi = in.Snapshot.SNR, in.Snapshot.RSSI
	} else {
		raw = p.Encode()
	}
	hash := p.Payload
	if len(hash) > hashBytes {
		hash = hash[:hashBytes]
	}
	m := packetJSON{
		Origin:     in.Origin.Name,
		OriginID:   in.Origin.ID,
		Timestamp:  FormatTimestamp(in.At),
		Type:       TypePacket,
		Direction:  in.Direction.String(),
		Time:       FormatTime(in.At),
		Date:       FormatDate(in.At),
		Len:        strconv.Itoa(len(raw)),
		PacketType: strconv.Itoa(int(p.PayloadType())),
		Route:      p.RouteType().Letter(),
		PayloadLen: strconv.Itoa(len(p.Payload)),
		Raw:        helpers.HexUpper(raw),
		SNR:        strconv.FormatFloat(float64(snr), 'f', 1, 32),
		RSSI:       strconv.Itoa(rssi),
		Hash:       helpers.HexUpper(hash),
	}
	if p.IsRouteDirect() && len(p.Path) != 0 {
		m.Path = FormatPath(p.Path)
	}
	return encode(buf, m)
}

func BuildRaw(buf []byte, in Raw) (int, error) {
	if len(in.Data) == 0 {
		return 0, errors.Wrap(errors.Errorf("raw data empty"), ErrMissingInput)
	}
	return encode(buf, rawJSON{
		Origin:    in.Origin.Name,
		OriginID:  in.Origin.ID,
		Timestamp: FormatTimestamp(in.At),
		Type:      TypeRaw,
		Data:      helpers.HexUpper(in.Data),
	})
}

// FormatPath renders hop hashes as "A1,B2,C3".
func FormatPath(path []byte) string {
	var b strings.Builder
	for i, hop := range path {
		if i != 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%02X", hop)
	}
	return b.String()
}

// Parse decodes any message into field map.
func Parse(b []byte) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Annotate(err, "message parse")
	}
	return m, nil
}

// encode writes JSON into buf only if it fits. Escaping HTML is off,
// consumers compare strings verbatim.
func encode(buf []byte, v interface{}) (int, error) {
	var tmp bytes.Buffer
	e := json.NewEncoder(&tmp)
	e.SetEscapeHTML(false)
	if err := e.Encode(v); err != nil {
		return 0, errors.Annotate(err, "message encode")
	}
	b := bytes.TrimRight(tmp.Bytes(), "\n")
	if len(b) > len(buf) {
		return 0, errors.Wrap(errors.Errorf("need=%d have=%d", len(b), len(buf)), ErrBufferTooSmall)
	}
	return copy(buf, b), nil
}
