package mesh

import (
	"bytes"
	"time"

	"github.com/temoto/meshrelay/helpers"
)

// CorrelationWindow is max distance between raw capture and packet enqueue
// for the capture to be reported with the packet.
const CorrelationWindow = 1 * time.Second

// RawSnapshot is last raw radio capture with signal metrics.
type RawSnapshot struct {
	Raw  []byte
	SNR  float32
	RSSI int
	At   helpers.Millis
}

func (s *RawSnapshot) Clone() *RawSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Raw = append([]byte(nil), s.Raw...)
	return &c
}

// Correlates reports whether rx packet queued at now may be reported
// with this capture: capture is recent and carries the same payload.
func (s *RawSnapshot) Correlates(pkt *Packet, dir Direction, now helpers.Millis) bool {
	if s == nil || len(s.Raw) == 0 || pkt == nil || dir != DirectionRx {
		return false
	}
	if now.Since(s.At) > CorrelationWindow {
		return false
	}
	return s.Describes(pkt)
}

// Describes compares payload only, path may grow between capture and handoff.
func (s *RawSnapshot) Describes(pkt *Packet) bool {
	captured, err := Decode(s.Raw)
	if err != nil {
		return false
	}
	return captured.PayloadType() == pkt.PayloadType() && bytes.Equal(captured.Payload, pkt.Payload)
}
