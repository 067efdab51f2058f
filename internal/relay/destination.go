package relay

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/relay"
)

type State uint8

const (
	StateDisabled State = iota
	StateDisconnected
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

const (
	BrokerBackoffMin   = 5 * time.Second
	BrokerBackoffMax   = 30 * time.Second
	AnalyzerBackoffMax = 5 * time.Minute
)

// DestinationInfo is read only view for logs and tests.
type DestinationInfo struct {
	Name     string
	State    State
	Backoff  time.Duration
	Failures int
	Analyzer bool
}

// destination is one broker or analyzer connection.
// All fields are owned by tick goroutine, transport callbacks
// reach it only through Relay inbox.
type destination struct {
	log            *log2.Log
	r              *Relay
	index          int
	name           string
	usable         bool
	state          State
	opt            relay.ConnOptions
	qos            byte
	conn           relay.Conn
	gen            uint32
	attempted      bool
	lastAttempt    helpers.Millis
	backoff        helpers.Backoff
	connectTimeout time.Duration
	counted        bool
	analyzer       *analyzerAuth // nil for brokers
}

func (d *destination) info() DestinationInfo {
	return DestinationInfo{
		Name:     d.name,
		State:    d.state,
		Backoff:  d.backoff.Current(),
		Failures: d.backoff.Failures(),
		Analyzer: d.analyzer != nil,
	}
}

// advance attempts connect when backoff allows and detects stuck connects.
func (d *destination) advance(now helpers.Millis) {
	switch d.state {
	case StateDisabled, StateConnected:
		return
	case StateConnecting:
		if now.Since(d.lastAttempt) >= d.connectTimeout*2 {
			d.failed(errors.Errorf("connect timeout"))
		}
		return
	}
	if d.analyzer != nil && d.analyzer.token == "" {
		return
	}
	if d.attempted && now.Since(d.lastAttempt) < d.backoff.Current() {
		return
	}
	d.dial(now)
}

func (d *destination) dial(now helpers.Millis) {
	d.attempted = true
	d.lastAttempt = now
	d.gen++
	d.log.Debugf("connecting url=%s attempt=%d", d.opt.URL, d.backoff.Failures()+1)
	conn, err := d.r.dialer.Dial(d.opt, d.r.notifier(d.index, d.gen))
	if err != nil {
		d.failed(errors.Annotate(err, "dial"))
		return
	}
	d.conn = conn
	d.state = StateConnecting
}

func (d *destination) onEvent(e relay.Event) {
	switch e.Kind {
	case relay.EventConnected:
		if d.state != StateConnecting {
			return
		}
		d.state = StateConnected
		d.backoff.Reset()
		if !d.counted {
			d.counted = true
			d.r.active++
		}
		d.r.stat.update(func(s *StatCounters) { s.Connects++ })
		d.log.Infof("connected url=%s", d.opt.URL)
		d.r.publishInitialStatus(d)
	case relay.EventConnectFailed:
		d.failed(e.Err)
	case relay.EventLost:
		d.r.stat.update(func(s *StatCounters) { s.Disconnects++ })
		d.failed(e.Err)
	}
}

// failed drops connection and doubles backoff.
func (d *destination) failed(err error) {
	wasConnected := d.state == StateConnected
	d.drop()
	next := d.backoff.Failure()
	if !wasConnected {
		d.r.stat.update(func(s *StatCounters) { s.ConnectFailures++ })
	}
	d.log.Errorf("url=%s err=%v retry in %v", d.opt.URL, err, next)
}

// drop closes transport and leaves destination disconnected.
func (d *destination) drop() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	if d.counted {
		d.counted = false
		d.r.active--
	}
	d.gen++ // late events from closed conn are stale
	if d.state != StateDisabled {
		d.state = StateDisconnected
	}
}

// reconnect presents new credentials even if old connection still works.
func (d *destination) reconnect(now helpers.Millis) {
	if d.state == StateDisabled {
		return
	}
	if d.state == StateConnected || d.state == StateConnecting {
		d.log.Infof("reconnect with new credentials")
		d.drop()
		d.dial(now)
	}
}

// publish is no-op returning false unless connected.
func (d *destination) publish(topic string, retained bool, payload []byte) bool {
	if d.state != StateConnected || d.conn == nil {
		return false
	}
	return d.conn.Publish(topic, d.qos, retained, payload)
}

func (d *destination) close() {
	d.drop()
}
