package tcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenoCCSlowStart(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	require.Equal(t, 100, cc.Window())
	cc.OnNewACK(ctx)
	assert.Equal(t, 200, cc.Window())
	cc.OnNewACK(ctx)
	assert.Equal(t, 300, cc.Window())
	assert.Equal(t, 0, cc.DupAckCount())
}

func TestRenoCCCongestionAvoidance(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	cc.ssthresh = 150 // force congestion avoidance on the next ACK
	cc.congWin = 200
	cc.OnNewACK(ctx)
	// congestion avoidance: congWin += mss * (mss / congWin) = 100*(100/200) = 0
	assert.Equal(t, 200, cc.Window())
}

func TestRenoCCDupAckInflatesBeforeThird(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	require.False(t, cc.OnDupACK(ctx))
	assert.Equal(t, 1, cc.DupAckCount())
	assert.Equal(t, 200, cc.Window()) // inflated even though fast retransmit hasn't fired

	require.False(t, cc.OnDupACK(ctx))
	assert.Equal(t, 2, cc.DupAckCount())
	assert.Equal(t, 300, cc.Window())

	fire := cc.OnDupACK(ctx)
	assert.True(t, fire, "fast retransmit must fire on the third duplicate ACK")
	assert.Equal(t, 3, cc.DupAckCount())
	assert.Equal(t, cc.ssthresh+3*100, cc.Window())
}

func TestRenoCCFurtherDupAcksKeepInflating(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	cc.OnDupACK(ctx)
	cc.OnDupACK(ctx)
	cc.OnDupACK(ctx) // fires
	before := cc.Window()
	fire := cc.OnDupACK(ctx)
	assert.False(t, fire)
	assert.Equal(t, before+100, cc.Window())
}

func TestRenoCCOnTimeoutResetsToSlowStart(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	cc.congWin = 800
	cc.dupAckCount = 2
	cc.OnTimeout(ctx)
	assert.Equal(t, 0, cc.DupAckCount())
	assert.Equal(t, 100, cc.Window())
	assert.Equal(t, 400, cc.ssthresh)
}

func TestRenoCCOnTimeoutSSThreshFloor(t *testing.T) {
	ctx := context.Background()
	cc := NewRenoCC(100)
	cc.congWin = 100 // congWin/2 would fall below one MSS
	cc.OnTimeout(ctx)
	assert.Equal(t, 100, cc.ssthresh)
}
