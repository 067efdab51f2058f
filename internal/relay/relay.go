// Package relay forwards mesh packets to MQTT brokers and analyzers.
//
// Relay is driven by Tick() from single goroutine, see Service.
// Transport callbacks only post events into inbox drained at tick start.
package relay

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/identity"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/mesh"
	"github.com/temoto/meshrelay/message"
	"github.com/temoto/meshrelay/relay"
	relay_config "github.com/temoto/meshrelay/relay/config"
)

const (
	waitLogInterval = 30 * time.Second
	inboxSize       = 32
)

type Options struct {
	Log      *log2.Log
	Config   *relay_config.Config
	Dialer   relay.Dialer
	Releaser mesh.Releaser
	Clock    *message.Clock
	// nil disables analyzers
	Identity identity.Identity
	// optional
	Stats message.StatsSource
}

type envelope struct {
	dest  int
	gen   uint32
	event relay.Event
}

type Relay struct {
	log      *log2.Log
	dialer   relay.Dialer
	releaser mesh.Releaser
	clock    *message.Clock
	identity identity.Identity
	stats    message.StatsSource
	stat     Stat

	origin         message.Origin
	topics         relay.Topics
	model          string
	firmware       string
	radio          message.Radio
	clientVersion  string
	statusEnabled  bool
	packetsEnabled bool
	rawEnabled     bool
	statusInterval time.Duration
	drainPerTick   int
	tokenTTL       time.Duration
	renewBuffer    time.Duration
	ownerKey       string
	connectTimeout time.Duration
	keepalive      time.Duration

	inbox chan envelope
	done  chan struct{}
	dests []*destination
	// connected destinations, tick goroutine only
	active int

	queue    *queue
	batch    []item
	snapshot *mesh.RawSnapshot
	buf      []byte

	statusArmed bool
	lastStatus  helpers.Millis
	waitLogged  bool
	lastWaitLog helpers.Millis
	closed      bool
}

func New(opt Options) (*Relay, error) {
	c := opt.Config
	if c == nil || opt.Dialer == nil || opt.Releaser == nil || opt.Clock == nil {
		return nil, errors.Errorf("code error relay.New() config, dialer, releaser, clock required")
	}
	r := &Relay{
		log:      opt.Log,
		dialer:   opt.Dialer,
		releaser: opt.Releaser,
		clock:    opt.Clock,
		identity: opt.Identity,
		stats:    opt.Stats,

		origin:         message.Origin{Name: c.Origin, ID: identity.PublicHex(opt.Identity)},
		model:          c.Model,
		firmware:       c.FirmwareVersion,
		radio:          message.Radio{FreqMHz: c.Radio.FreqMHz, BandwidthKHz: c.Radio.BandwidthKHz, SF: c.Radio.SF, CR: c.Radio.CR},
		clientVersion:  c.ClientVersion,
		statusEnabled:  c.Messages.StatusEnabled(),
		packetsEnabled: c.Messages.PacketsEnabled(),
		rawEnabled:     c.Messages.RawEnabled(),
		statusInterval: c.StatusInterval(),
		drainPerTick:   c.DrainPerTick,
		tokenTTL:       c.Analyzer.TokenTTL(),
		renewBuffer:    c.Analyzer.RenewBuffer(),
		ownerKey:       c.Analyzer.OwnerKey,
		connectTimeout: c.ConnectTimeout(),
		keepalive:      c.Keepalive(),

		inbox: make(chan envelope, inboxSize),
		done:  make(chan struct{}),
		queue: newQueue(c.QueueSize, opt.Releaser),
		buf:   make([]byte, message.PacketMax),
	}
	deviceID := c.DeviceID
	if deviceID == "" {
		deviceID = r.origin.ID
	}
	r.topics = relay.NewTopics(c.Namespace, c.Region, deviceID)
	if r.drainPerTick <= 0 {
		r.drainPerTick = r.queue.Cap()
	}
	r.batch = make([]item, 0, r.drainPerTick)

	will := &relay.Will{Topic: r.topics.Status, Retained: true}
	if n, err := message.BuildStatus(r.buf, r.statusMessage(message.StatusOffline, time.Time{})); err == nil {
		will.Payload = append([]byte(nil), r.buf[:n]...)
	}

	for _, b := range c.Brokers {
		d := r.addDestination(b.Name, relay.ConnOptions{
			URL:      b.URL(),
			ClientID: fmt.Sprintf("meshrelay_%s_%s", deviceID, b.Name),
			Username: b.Username,
			Password: b.Password,
		}, will)
		d.qos = byte(b.QoS)
		d.backoff = helpers.Backoff{Min: BrokerBackoffMin, Max: BrokerBackoffMax}
		if err := b.Usable(); err != nil {
			d.log.Infof("disabled: %v", err)
		} else {
			d.usable = true
		}
		d.backoff.Reset()
	}

	regions := []struct {
		enabled bool
		region  AnalyzerRegion
	}{{c.Analyzer.US, AnalyzerUS}, {c.Analyzer.EU, AnalyzerEU}}
	for _, x := range regions {
		if !x.enabled {
			continue
		}
		d := r.addDestination(x.region.Name, relay.ConnOptions{
			URL:      x.region.URL,
			ClientID: fmt.Sprintf("meshrelay_%s", r.origin.ID),
			Username: AnalyzerUsername(opt.Identity),
		}, will)
		min := c.Analyzer.Reconnect()
		max := AnalyzerBackoffMax
		if max < min {
			max = min
		}
		d.backoff = helpers.Backoff{Min: min, Max: max}
		d.backoff.Reset()
		d.analyzer = &analyzerAuth{region: x.region}
		if opt.Identity == nil {
			d.log.Infof("disabled: no identity for token")
		} else {
			d.usable = true
		}
	}

	for _, d := range r.dests {
		if d.usable {
			d.state = StateDisconnected
		}
	}
	return r, nil
}

func (r *Relay) addDestination(name string, opt relay.ConnOptions, will *relay.Will) *destination {
	opt.Name = name
	opt.ConnectTimeout = r.connectTimeout
	opt.KeepAlive = r.keepalive
	opt.Will = will
	d := &destination{
		log:            r.log.Named(name),
		r:              r,
		index:          len(r.dests),
		name:           name,
		state:          StateDisabled,
		opt:            opt,
		connectTimeout: r.connectTimeout,
	}
	r.dests = append(r.dests, d)
	return d
}

// notifier is handed to transport, it may run on any goroutine.
func (r *Relay) notifier(dest int, gen uint32) relay.Notify {
	return func(e relay.Event) {
		select {
		case r.inbox <- envelope{dest: dest, gen: gen, event: e}:
		case <-r.done:
		}
	}
}

// Tick runs one bounded round of relay work.
func (r *Relay) Tick(now helpers.Millis) {
	if r.closed {
		return
	}
	r.drainInbox()
	for _, d := range r.dests {
		d.advance(now)
	}
	r.renewAnalyzers(now)
	r.drainQueue(now)
	r.statusTimer(now)
	r.stat.update(func(s *StatCounters) {
		s.QueueLen = r.queue.Len()
		s.Active = r.active
	})
}

func (r *Relay) drainInbox() {
	for {
		select {
		case env := <-r.inbox:
			d := r.dests[env.dest]
			if env.gen != d.gen {
				r.stat.update(func(s *StatCounters) { s.StaleEvents++ })
				d.log.Debugf("stale event=%s gen=%d current=%d", env.event.Kind, env.gen, d.gen)
				continue
			}
			d.onEvent(env.event)
		default:
			return
		}
	}
}

// OnPacket takes ownership of pkt. Must be called on tick goroutine.
func (r *Relay) OnPacket(pkt *mesh.Packet, dir mesh.Direction, now helpers.Millis) {
	if pkt == nil {
		return
	}
	if r.closed || !(r.packetsEnabled || r.rawEnabled) {
		r.releaser.Release(pkt)
		return
	}
	evicted := r.queue.Enqueue(pkt, dir, now, r.snapshot)
	r.stat.update(func(s *StatCounters) {
		s.Enqueued++
		if evicted {
			s.Evicted++
		}
	})
	if evicted {
		r.log.Debugf("queue full, evicted oldest")
	}
}

// OnRawCapture replaces the single retained radio snapshot.
func (r *Relay) OnRawCapture(raw []byte, snr float32, rssi int, now helpers.Millis) {
	if len(raw) == 0 {
		return
	}
	if r.snapshot == nil {
		r.snapshot = &mesh.RawSnapshot{}
	}
	r.snapshot.Raw = append(r.snapshot.Raw[:0], raw...)
	r.snapshot.SNR = snr
	r.snapshot.RSSI = rssi
	r.snapshot.At = now
}

func (r *Relay) drainQueue(now helpers.Millis) {
	if r.queue.Len() == 0 {
		return
	}
	if r.active == 0 {
		if !r.waitLogged || now.Since(r.lastWaitLog) >= waitLogInterval {
			r.waitLogged = true
			r.lastWaitLog = now
			r.log.Infof("queue=%d waiting for any destination to connect", r.queue.Len())
		}
		return
	}
	r.batch = r.queue.DequeueAll(r.batch[:0], r.drainPerTick)
	at := r.clock.Now()
	for i := range r.batch {
		it := &r.batch[i]
		r.publishItem(it, at)
		r.releaser.Release(it.pkt)
		*it = item{}
	}
}

func (r *Relay) publishItem(it *item, at time.Time) {
	in := message.Packet{Origin: r.origin, At: at, Direction: it.dir, Packet: it.pkt, Snapshot: it.snap}
	if r.packetsEnabled {
		n, err := message.BuildPacket(r.buf[:message.PacketMax], in)
		if err != nil {
			r.stat.update(func(s *StatCounters) { s.BuildErrors++ })
			r.log.Errorf("build packet %s err=%v", it.pkt, err)
		} else {
			r.publishAll(r.topics.Packets, false, r.buf[:n])
		}
	}
	if r.rawEnabled {
		var data []byte
		if message.PacketSignal(in) == message.SignalMeasured {
			data = it.snap.Raw
		} else {
			data = it.pkt.Encode()
		}
		n, err := message.BuildRaw(r.buf[:message.RawMax], message.Raw{Origin: r.origin, At: at, Data: data})
		if err != nil {
			r.stat.update(func(s *StatCounters) { s.BuildErrors++ })
			r.log.Errorf("build raw %s err=%v", it.pkt, err)
		} else {
			r.publishAll(r.topics.Raw, false, r.buf[:n])
		}
	}
}

// publishAll returns number of destinations that accepted payload.
func (r *Relay) publishAll(topic string, retained bool, payload []byte) int {
	ok, failed := 0, 0
	for _, d := range r.dests {
		if d.state != StateConnected {
			continue
		}
		if d.publish(topic, retained, payload) {
			ok++
		} else {
			failed++
		}
	}
	r.stat.update(func(s *StatCounters) {
		s.Published += uint64(ok)
		s.PublishFailed += uint64(failed)
	})
	return ok
}

func (r *Relay) statusMessage(status string, at time.Time) message.Status {
	m := message.Status{
		Status:          status,
		At:              at,
		Origin:          r.origin,
		Model:           r.model,
		FirmwareVersion: r.firmware,
		Radio:           r.radio,
		ClientVersion:   r.clientVersion,
	}
	if r.stats != nil {
		s := r.stats.Stats()
		if s.QueueLen == message.StatUnavailable {
			s.QueueLen = r.queue.Len()
		}
		m.Stats = &s
	}
	return m
}

func (r *Relay) buildStatus(status string) ([]byte, bool) {
	n, err := message.BuildStatus(r.buf[:message.StatusMax], r.statusMessage(status, r.clock.Now()))
	if err != nil {
		r.stat.update(func(s *StatCounters) { s.BuildErrors++ })
		r.log.Errorf("build status err=%v", err)
		return nil, false
	}
	return r.buf[:n], true
}

// statusTimer advances lastStatus only if some destination accepted status,
// so failed publish is retried on next tick.
func (r *Relay) statusTimer(now helpers.Millis) {
	if !r.statusEnabled {
		return
	}
	if !r.statusArmed {
		r.statusArmed = true
		r.lastStatus = now
		return
	}
	if now.Since(r.lastStatus) < r.statusInterval {
		return
	}
	b, ok := r.buildStatus(message.StatusOnline)
	if !ok {
		return
	}
	if r.publishAll(r.topics.Status, true, b) > 0 {
		r.lastStatus = now
		r.stat.update(func(s *StatCounters) { s.StatusPublished++ })
	}
}

func (r *Relay) publishInitialStatus(d *destination) {
	if !r.statusEnabled {
		return
	}
	b, ok := r.buildStatus(message.StatusOnline)
	if !ok {
		return
	}
	if !d.publish(r.topics.Status, true, b) {
		d.log.Errorf("initial status publish failed")
	}
}

// Close publishes best effort offline status, closes transports
// and releases all queued packets. Relay is unusable after Close.
func (r *Relay) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if b, ok := r.buildStatus(message.StatusOffline); ok {
		r.publishAll(r.topics.Status, true, b)
	}
	for _, d := range r.dests {
		d.close()
	}
	close(r.done)
	released := r.queue.Clear()
	r.log.Infof("closed, released queued=%d", released)
}

func (r *Relay) QueueLen() int    { return r.queue.Len() }
func (r *Relay) ActiveCount() int { return r.active }
func (r *Relay) Stat() *Stat      { return &r.stat }

func (r *Relay) Destinations() []DestinationInfo {
	ds := make([]DestinationInfo, len(r.dests))
	for i, d := range r.dests {
		ds[i] = d.info()
	}
	return ds
}
