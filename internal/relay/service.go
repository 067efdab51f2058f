package relay

import (
	"sync"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/mesh"
)

const (
	DefaultIngestSize   = 64
	DefaultStatInterval = 5 * time.Minute
)

type ServiceOptions struct {
	Tick         time.Duration
	IngestSize   int
	StatInterval time.Duration
	Millis       helpers.MillisClock
}

type ingestItem struct {
	pkt  *mesh.Packet
	dir  mesh.Direction
	raw  []byte
	snr  float32
	rssi int
}

// Service owns the only goroutine calling Relay methods.
// Producers hand work over with non-blocking Submit*.
type Service struct {
	log    *log2.Log
	r      *Relay
	alive  *alive.Alive
	opt    ServiceOptions
	ingest chan ingestItem

	mu      sync.RWMutex
	stopped bool
}

func NewService(log *log2.Log, r *Relay, opt ServiceOptions) *Service {
	if opt.Tick <= 0 {
		opt.Tick = 100 * time.Millisecond
	}
	if opt.IngestSize <= 0 {
		opt.IngestSize = DefaultIngestSize
	}
	if opt.StatInterval <= 0 {
		opt.StatInterval = DefaultStatInterval
	}
	if opt.Millis == nil {
		opt.Millis = helpers.NewMonoClock()
	}
	return &Service{
		log:    log,
		r:      r,
		alive:  alive.NewAlive(),
		opt:    opt,
		ingest: make(chan ingestItem, opt.IngestSize),
	}
}

func (self *Service) Start() {
	if !self.alive.Add(1) {
		return
	}
	go self.run()
}

// Stop waits for current tick, closes relay and releases pending packets.
func (self *Service) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

func (self *Service) Done() <-chan struct{} { return self.alive.WaitChan() }

// Submit never blocks. Packet ownership passes to relay,
// on false it is already released.
func (self *Service) Submit(pkt *mesh.Packet, dir mesh.Direction) bool {
	return self.submit(ingestItem{pkt: pkt, dir: dir})
}

// SubmitRaw copies raw, caller may reuse buffer.
func (self *Service) SubmitRaw(raw []byte, snr float32, rssi int) bool {
	if len(raw) == 0 {
		return false
	}
	return self.submit(ingestItem{raw: append([]byte(nil), raw...), snr: snr, rssi: rssi})
}

func (self *Service) submit(it ingestItem) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if !self.stopped {
		select {
		case self.ingest <- it:
			return true
		default:
		}
	}
	if it.pkt != nil {
		self.r.releaser.Release(it.pkt)
	}
	self.r.stat.update(func(s *StatCounters) { s.IngestDropped++ })
	return false
}

func (self *Service) run() {
	defer self.alive.Done()
	ticker := time.NewTicker(self.opt.Tick)
	defer ticker.Stop()
	stopCh := self.alive.StopChan()
	lastStat := self.opt.Millis.Millis()

	for {
		select {
		case <-stopCh:
			self.shutdown()
			return

		case it := <-self.ingest:
			self.handle(it)

		case <-ticker.C:
			now := self.opt.Millis.Millis()
			self.r.Tick(now)
			if now.Since(lastStat) >= self.opt.StatInterval {
				lastStat = now
				self.log.Infof("stat %s", self.r.stat.Snapshot().String())
			}
		}
	}
}

func (self *Service) handle(it ingestItem) {
	now := self.opt.Millis.Millis()
	if it.pkt != nil {
		self.r.OnPacket(it.pkt, it.dir, now)
	} else {
		self.r.OnRawCapture(it.raw, it.snr, it.rssi, now)
	}
}

func (self *Service) shutdown() {
	self.mu.Lock()
	self.stopped = true
	self.mu.Unlock()
	for {
		select {
		case it := <-self.ingest:
			if it.pkt != nil {
				self.r.releaser.Release(it.pkt)
			}
		default:
			self.r.Close()
			self.log.Infof("stopped stat %s", self.r.stat.Snapshot().String())
			return
		}
	}
}
