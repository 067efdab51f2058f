package mesh

import (
	"sync"

	"github.com/juju/errors"
)

var ErrPoolExhausted = errors.New("packet pool exhausted")

// Releaser takes packet ownership back. Each packet must be released once.
type Releaser interface {
	Release(*Packet)
}

// Pool is fixed size packet manager. It tracks outstanding packets
// so double release and leaks are observable.
type Pool struct {
	mu             sync.Mutex
	size           int
	free           []*Packet
	out            map[*Packet]struct{}
	doubleReleases int
}

func NewPool(size int) *Pool {
	p := &Pool{
		size: size,
		free: make([]*Packet, 0, size),
		out:  make(map[*Packet]struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, new(Packet))
	}
	return p
}

func (p *Pool) Acquire() (*Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	pkt := p.free[n-1]
	p.free = p.free[:n-1]
	*pkt = Packet{}
	p.out[pkt] = struct{}{}
	return pkt, nil
}

// AcquireDecode is Acquire + Decode into pooled packet.
func (p *Pool) AcquireDecode(raw []byte) (*Packet, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	pkt, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	*pkt = *decoded
	return pkt, nil
}

func (p *Pool) Release(pkt *Packet) {
	if pkt == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.out[pkt]; !ok {
		p.doubleReleases++
		return
	}
	delete(p.out, pkt)
	p.free = append(p.free, pkt)
}

func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out)
}

func (p *Pool) DoubleReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doubleReleases
}
