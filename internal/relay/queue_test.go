package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/meshrelay/mesh"
)

func TestQueueEviction(t *testing.T) {
	t.Parallel()
	const capacity = 4
	for _, total := range []int{1, capacity, capacity + 1, 3*capacity + 2} {
		pool := mesh.NewPool(64)
		q := newQueue(capacity, pool)
		evictions := 0
		for i := 0; i < total; i++ {
			p, err := pool.Acquire()
			require.NoError(t, err)
			if q.Enqueue(p, mesh.DirectionRx, ms(i), nil) {
				evictions++
			}
			assert.LessOrEqual(t, q.Len(), capacity)
		}
		expectLen := total
		if expectLen > capacity {
			expectLen = capacity
		}
		assert.Equal(t, total-expectLen, evictions)
		assert.Equal(t, expectLen, pool.Outstanding(), "evicted packets released")

		items := q.DequeueAll(nil, 0)
		require.Len(t, items, expectLen)
		for i, it := range items {
			assert.Equal(t, ms(total-expectLen+i), it.at, "FIFO order")
			pool.Release(it.pkt)
		}
		assert.Len(t, q.DequeueAll(nil, 0), 0)
		assert.Equal(t, 0, pool.Outstanding())
		assert.Equal(t, 0, pool.DoubleReleases())
	}
}

func TestQueueDequeueBounded(t *testing.T) {
	t.Parallel()
	pool := mesh.NewPool(8)
	q := newQueue(8, pool)
	for i := 0; i < 5; i++ {
		p, _ := pool.Acquire()
		q.Enqueue(p, mesh.DirectionTx, ms(i*10), nil)
	}
	first := q.DequeueAll(nil, 3)
	require.Len(t, first, 3)
	assert.Equal(t, ms(0), first[0].at)
	assert.Equal(t, mesh.DirectionTx, first[0].dir)
	assert.Equal(t, 2, q.Len())
	for _, it := range first {
		pool.Release(it.pkt)
	}
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, pool.Outstanding())
	assert.Equal(t, 0, pool.DoubleReleases())
}

func TestQueueSnapshotCopy(t *testing.T) {
	t.Parallel()
	pool := mesh.NewPool(4)
	q := newQueue(4, pool)
	snap := &mesh.RawSnapshot{Raw: []byte{0x11, 0x00, 0x03}, SNR: 5.5, RSSI: -90, At: ms(1000)}
	acquire := func() *mesh.Packet {
		p, err := pool.Acquire()
		require.NoError(t, err)
		*p = *mesh.NewPacket(mesh.RouteFlood, mesh.PayloadAdvert, nil, []byte{3})
		return p
	}

	q.Enqueue(acquire(), mesh.DirectionRx, ms(1500), snap)
	q.Enqueue(acquire(), mesh.DirectionRx, ms(2500), snap)
	q.Enqueue(acquire(), mesh.DirectionTx, ms(1500), snap)
	snap.Raw[0] = 9

	items := q.DequeueAll(nil, 0)
	require.Len(t, items, 3)
	require.NotNil(t, items[0].snap)
	assert.Equal(t, []byte{0x11, 0x00, 0x03}, items[0].snap.Raw)
	assert.Equal(t, float32(5.5), items[0].snap.SNR)
	assert.Nil(t, items[1].snap, "outside window")
	assert.Nil(t, items[2].snap, "tx never measured")
	for _, it := range items {
		pool.Release(it.pkt)
	}
}
