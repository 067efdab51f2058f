package message

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/mesh"
)

var testOrigin = Origin{Name: "Node1", ID: "ABCD"}

func TestStatusRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 4, 5, 6, 7, 123456000, time.UTC)
	in := Status{
		Status:          StatusOnline,
		At:              at,
		Origin:          testOrigin,
		Model:           "Heltec V3",
		FirmwareVersion: "v1.9.0",
		Radio:           Radio{FreqMHz: 869.525, BandwidthKHz: 250, SF: 11, CR: 5},
		ClientVersion:   "meshrelay/1.0",
	}
	buf := make([]byte, StatusMax)
	n, err := BuildStatus(buf, in)
	require.NoError(t, err)
	m, err := Parse(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"status":           "online",
		"timestamp":        "2025-03-04T05:06:07.123456",
		"origin":           "Node1",
		"origin_id":        "ABCD",
		"model":            "Heltec V3",
		"firmware_version": "v1.9.0",
		"radio":            "869.525000,250.0,11,5",
		"client_version":   "meshrelay/1.0",
	}, m)

	// same input, same bytes
	buf2 := make([]byte, StatusMax)
	n2, err := BuildStatus(buf2, in)
	require.NoError(t, err)
	assert.Equal(t, buf[:n], buf2[:n2])
}

func TestStatusStats(t *testing.T) {
	t.Parallel()
	stats := UnavailableStats()
	stats.QueueLen = 3
	buf := make([]byte, StatusMax)
	n, err := BuildStatus(buf, Status{Status: StatusOnline, Origin: testOrigin, Stats: &stats})
	require.NoError(t, err)
	m, err := Parse(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T12:00:00.000000", m["timestamp"])
	s := m["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), s["queue_len"])
	assert.Equal(t, float64(-1), s["battery_mv"])
	assert.Equal(t, float64(-999), s["noise_floor"])
}

func TestBuildPacket(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 12, 31, 23, 59, 58, 0, time.UTC)
	direct := mesh.NewPacket(mesh.RouteDirect, mesh.PayloadTxtMsg, helpers.MustHex("A1B2"), helpers.MustHex("00112233445566778899"))
	flood := mesh.NewPacket(mesh.RouteFlood, mesh.PayloadAdvert, helpers.MustHex("C3"), helpers.MustHex("AABB"))

	cases := []struct {
		name  string
		in    Packet
		check func(testing.TB, map[string]interface{})
	}{
		{"reconstructed", Packet{Origin: testOrigin, At: at, Direction: mesh.DirectionRx, Packet: direct},
			func(t testing.TB, m map[string]interface{}) {
				assert.Equal(t, "PACKET", m["type"])
				assert.Equal(t, "rx", m["direction"])
				assert.Equal(t, "23:59:58", m["time"])
				assert.Equal(t, "31/12/2025", m["date"])
				assert.Equal(t, "14", m["len"])
				assert.Equal(t, "2", m["packet_type"])
				assert.Equal(t, "D", m["route"])
				assert.Equal(t, "10", m["payload_len"])
				assert.Equal(t, "0A02A1B200112233445566778899", m["raw"])
				assert.Equal(t, "12.5", m["SNR"])
				assert.Equal(t, "-65", m["RSSI"])
				assert.Equal(t, "0011223344556677", m["hash"])
				assert.Equal(t, "A1,B2", m["path"])
			}},
		{"measured", Packet{Origin: testOrigin, At: at, Direction: mesh.DirectionTx, Packet: flood,
			Snapshot: &mesh.RawSnapshot{Raw: helpers.MustHex("1101C3AABB"), SNR: -7.3, RSSI: -112}},
			func(t testing.TB, m map[string]interface{}) {
				assert.Equal(t, "tx", m["direction"])
				assert.Equal(t, "F", m["route"])
				assert.Equal(t, "1101C3AABB", m["raw"])
				assert.Equal(t, "5", m["len"])
				assert.Equal(t, "-7.3", m["SNR"])
				assert.Equal(t, "-112", m["RSSI"])
				assert.Equal(t, "AABB", m["hash"])
				_, hasPath := m["path"]
				assert.False(t, hasPath)
			}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			buf := make([]byte, PacketMax)
			n, err := BuildPacket(buf, c.in)
			require.NoError(t, err)
			m, err := Parse(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, "Node1", m["origin"])
			c.check(t, m)
		})
	}
	assert.Equal(t, SignalReconstructed, PacketSignal(cases[0].in))
	assert.Equal(t, SignalMeasured, PacketSignal(cases[1].in))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	n, err := BuildPacket(make([]byte, PacketMax), Packet{Origin: testOrigin})
	assert.Equal(t, 0, n)
	assert.Equal(t, ErrMissingInput, errors.Cause(err))

	n, err = BuildRaw(make([]byte, 10), Raw{Origin: testOrigin, Data: []byte{1, 2, 3}})
	assert.Equal(t, 0, n)
	assert.Equal(t, ErrBufferTooSmall, errors.Cause(err))
	log.Debug(err)

	buf := make([]byte, RawMax)
	n, err = BuildRaw(buf, Raw{Origin: testOrigin, Data: []byte{0xde, 0xad}})
	require.NoError(t, err)
	assert.Equal(t, `{"origin":"Node1","origin_id":"ABCD","timestamp":"2024-01-01T12:00:00.000000","type":"RAW","data":"DEAD"}`, string(buf[:n]))
}

type fixedWall struct {
	t      time.Time
	synced bool
}

func (f fixedWall) Now() time.Time { return f.t }
func (f fixedWall) Synced() bool   { return f.synced }

func TestClock(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	utc := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	c := NewClock(fixedWall{utc, true}, "Europe/Berlin", log)
	assert.Equal(t, "00:30:00", FormatTime(c.Now()))
	assert.Equal(t, "02/06/2025", FormatDate(c.Now()))

	bad := NewClock(fixedWall{utc, true}, "Mars/Olympus", log)
	assert.Equal(t, time.UTC, bad.Location())

	unsynced := NewClock(fixedWall{time.Unix(5, 0), false}, "", log)
	assert.True(t, unsynced.Now().IsZero())
	assert.Equal(t, int64(5), unsynced.WallNow().Unix())
}
