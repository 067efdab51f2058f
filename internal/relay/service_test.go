package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/meshrelay/mesh"
	"github.com/temoto/meshrelay/message"
)

func TestServicePublish(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(env *tenv) { env.dialer.auto = true })
	s := NewService(env.log, env.r, ServiceOptions{Tick: 5 * time.Millisecond})
	s.Start()

	assert.True(t, s.SubmitRaw([]byte{0x11, 0x00, 0xca, 0xfe}, 4.5, -90))
	assert.True(t, s.Submit(env.packet(0xca, 0xfe), mesh.DirectionRx))
	assert.Eventually(t, func() bool {
		c := env.dialer.last()
		return c != nil && len(c.topics("meshcore/ams/dev1/packets")) == 1
	}, 3*time.Second, 5*time.Millisecond)

	s.Stop()
	<-s.Done()
	c := env.dialer.last()
	m, err := message.Parse(c.topics("meshcore/ams/dev1/packets")[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "rx", m["direction"])
	assert.Equal(t, "4.5", m["SNR"])
	assert.True(t, c.isClosed())
	assert.Equal(t, 0, env.pool.Outstanding())

	assert.False(t, s.Submit(env.packet(1), mesh.DirectionTx), "stopped")
	assert.Equal(t, 0, env.pool.Outstanding())
	assert.Equal(t, uint64(1), env.r.Stat().Snapshot().IngestDropped)
}

func TestServiceIngestFull(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	s := NewService(env.log, env.r, ServiceOptions{Tick: time.Hour, IngestSize: 2})

	assert.True(t, s.Submit(env.packet(1), mesh.DirectionRx))
	assert.True(t, s.Submit(env.packet(2), mesh.DirectionRx))
	assert.False(t, s.Submit(env.packet(3), mesh.DirectionRx))
	assert.False(t, s.SubmitRaw(nil, 0, 0))
	assert.Equal(t, 2, env.pool.Outstanding())
	assert.Equal(t, uint64(1), env.r.Stat().Snapshot().IngestDropped)

	s.Start()
	s.Stop()
	assert.Equal(t, 0, env.pool.Outstanding())
	assert.Equal(t, 0, env.pool.DoubleReleases())
}
