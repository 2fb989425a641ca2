package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPollerState_String(t *testing.T) {
	assert.Equal(t, "stopped", PollerStateStopped.String())
	assert.Equal(t, "running", PollerStateRunning.String())
	assert.Equal(t, "stopping", PollerStateStopping.String())
}

func TestPoller_PollOnce(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(0x30, 0x1388, 4)

	var buf bytes.Buffer
	renderer, err := NewRenderer(&buf, FormatJSONL)
	require.NoError(t, err)

	metrics := NewPollMetrics(zap.NewNop())
	reader := NewReader(ft, DefaultSchema())
	p := NewPoller(reader, renderer, 0x30, 0, WithPollMetrics(metrics))

	batch, err := p.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, DefaultSchema().Len(), batch.Len())
	assert.Equal(t, uint8(0x30), ft.selected)
	assert.Equal(t, uint64(1), p.Cycles())
	assert.True(t, strings.HasPrefix(buf.String(), `{"cell_count":4,`))
	assert.NotNil(t, gatherFamily(t, metrics, "bmsreader_poll_cycles_total"))
}

func TestPoller_RunOnceWithoutInterval(t *testing.T) {
	ft := newFakeTransport()
	reader := NewReader(ft, DefaultSchema())
	p := NewPoller(reader, nil, DefaultSlaveAddress, 0)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, uint64(1), p.Cycles())
	assert.Equal(t, PollerStateStopped, p.State())
}

func TestPoller_RunUntilCancelled(t *testing.T) {
	ft := newFakeTransport()
	ft.setWords(DefaultSlaveAddress, 0x1388, 4)
	reader := NewReader(ft, DefaultSchema())
	p := NewPoller(reader, nil, DefaultSlaveAddress, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return p.Cycles() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, PollerStateStopped, p.State())
}

func TestPoller_RejectsConcurrentRun(t *testing.T) {
	p := NewPoller(NewReader(newFakeTransport(), DefaultSchema()), nil, 1, time.Hour)
	p.state.Store(int32(PollerStateRunning))

	assert.Error(t, p.Run(context.Background()))
}

func TestPoller_NilTransport(t *testing.T) {
	p := NewPoller(NewReader(nil, DefaultSchema()), nil, 1, 0)

	batch, err := p.PollOnce()
	require.NoError(t, err)
	assert.Equal(t, batch.Len(), batch.Failed())
}
