package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/identity"
	"github.com/temoto/meshrelay/log2"
	"github.com/temoto/meshrelay/mesh"
	"github.com/temoto/meshrelay/message"
	"github.com/temoto/meshrelay/relay"
	relay_config "github.com/temoto/meshrelay/relay/config"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type connMock struct {
	opt    relay.ConnOptions
	notify relay.Notify

	mu        sync.Mutex
	closed    bool
	reject    bool
	published []published
}

func (self *connMock) Publish(topic string, qos byte, retained bool, payload []byte) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed || self.reject {
		return false
	}
	self.published = append(self.published, published{topic, retained, append([]byte(nil), payload...)})
	return true
}

func (self *connMock) Close() {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
}

func (self *connMock) setReject(r bool) {
	self.mu.Lock()
	self.reject = r
	self.mu.Unlock()
}

func (self *connMock) topics(topic string) []published {
	self.mu.Lock()
	defer self.mu.Unlock()
	var ps []published
	for _, p := range self.published {
		if p.topic == topic {
			ps = append(ps, p)
		}
	}
	return ps
}

func (self *connMock) connected()     { self.notify(relay.Event{Kind: relay.EventConnected}) }
func (self *connMock) lost(err error) { self.notify(relay.Event{Kind: relay.EventLost, Err: err}) }
func (self *connMock) connectFailed() {
	self.notify(relay.Event{Kind: relay.EventConnectFailed, Err: errors.New("refused")})
}

func (self *connMock) isClosed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

type dialerMock struct {
	t        testing.TB
	mu       sync.Mutex
	conns    []*connMock
	attempts int
	dialErr  error
	// connect immediately on dial
	auto     bool
}

func (self *dialerMock) Dial(opt relay.ConnOptions, notify relay.Notify) (relay.Conn, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.attempts++
	if self.dialErr != nil {
		return nil, self.dialErr
	}
	c := &connMock{opt: opt, notify: notify}
	self.conns = append(self.conns, c)
	self.t.Logf("mock dial name=%s url=%s user=%s", opt.Name, opt.URL, opt.Username)
	if self.auto {
		c.connected()
	}
	return c, nil
}

func (self *dialerMock) count() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.conns)
}

func (self *dialerMock) attemptCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.attempts
}

func (self *dialerMock) last() *connMock {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.conns) == 0 {
		return nil
	}
	return self.conns[len(self.conns)-1]
}

type wallMock struct {
	now    time.Time
	synced bool
}

func (self *wallMock) Now() time.Time { return self.now }
func (self *wallMock) Synced() bool   { return self.synced }

type tenv struct {
	t      testing.TB
	log    *log2.Log
	config *relay_config.Config
	dialer *dialerMock
	pool   *mesh.Pool
	wall   *wallMock
	id     identity.Identity
	r      *Relay
}

var testSeed = helpers.MustHex("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")

func testBroker(name string) relay_config.Broker {
	return relay_config.Broker{Name: name, Enable: true, Host: "mqtt.lan", Port: 1883, Username: "node", Password: "pw"}
}

func newTestEnv(t testing.TB, setup func(*tenv)) *tenv {
	id, err := identity.FromSeed(testSeed)
	require.NoError(t, err)
	env := &tenv{
		t:      t,
		log:    log2.NewTest(t, log2.LDebug),
		config: &relay_config.Config{Origin: "Node1", Region: "ams", DeviceID: "dev1", QueueSize: 8},
		dialer: &dialerMock{t: t},
		pool:   mesh.NewPool(64),
		wall:   &wallMock{now: time.Unix(1750000000, 0), synced: true},
		id:     id,
	}
	env.config.Brokers = []relay_config.Broker{testBroker("local")}
	if setup != nil {
		setup(env)
	}
	require.NoError(t, env.config.Validate(env.log))
	env.r, err = New(Options{
		Log:      env.log,
		Config:   env.config,
		Dialer:   env.dialer,
		Releaser: env.pool,
		Clock:    message.NewClock(env.wall, "", env.log),
		Identity: env.id,
	})
	require.NoError(t, err)
	return env
}

func (env *tenv) packet(payload ...byte) *mesh.Packet {
	p, err := env.pool.Acquire()
	require.NoError(env.t, err)
	*p = *mesh.NewPacket(mesh.RouteFlood, mesh.PayloadAdvert, nil, payload)
	return p
}

func ms(x int) helpers.Millis { return helpers.Millis(x) }
