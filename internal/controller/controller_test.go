package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunnable struct {
	ready atomic.Bool
}

func (r *blockingRunnable) Run(ctx context.Context) error {
	r.ready.Store(true)
	<-ctx.Done()

	return nil
}

func (r *blockingRunnable) IsReady() bool { return r.ready.Load() }

type countingSink struct {
	notified atomic.Int32
}

func (s *countingSink) NotifyReload() { s.notified.Add(1) }

func TestController_startStopLifecycle(t *testing.T) {
	filterComp := &blockingRunnable{}
	dnsComp := &blockingRunnable{}
	sink := &countingSink{}

	c := &Controller{filter: filterComp, dns: dnsComp, sinks: []ReloadSink{sink}}

	assert.False(t, c.IsRunning())

	c.Start()
	require.Eventually(t, c.IsRunning, time.Second, 5*time.Millisecond)
	require.Eventually(t, c.IsReady, time.Second, 5*time.Millisecond)

	// Start is idempotent while already running.
	c.Start()

	c.NotifyReload()
	assert.EqualValues(t, 1, sink.notified.Load())

	ok := c.Stop(true, time.Second)
	assert.True(t, ok)
	assert.False(t, c.IsRunning())
}

func TestController_stopTimesOut(t *testing.T) {
	slow := &slowStopRunnable{}
	c := &Controller{filter: slow, dns: &blockingRunnable{}}

	c.Start()
	require.Eventually(t, c.IsRunning, time.Second, 5*time.Millisecond)

	ok := c.Stop(true, 20*time.Millisecond)
	assert.False(t, ok)
}

// slowStopRunnable ignores context cancellation for longer than the Stop
// timeout its test passes, to exercise Controller.Stop's timeout path.
type slowStopRunnable struct{}

func (slowStopRunnable) Run(ctx context.Context) error {
	time.Sleep(300 * time.Millisecond)

	return nil
}
