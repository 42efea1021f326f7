package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockOnlyMovesOnAdvance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := NewManualClock(start)

	assert.Equal(t, uint64(1_700_000_000), clk.NowUnix())
	assert.Equal(t, uint64(1_700_000_000), clk.NowUnix(), "reading must not move the clock")

	clk.Advance(61 * time.Second)
	assert.Equal(t, uint64(1_700_000_061), clk.NowUnix())

	clk.Set(time.Unix(1_800_000_000, 0))
	assert.Equal(t, uint64(1_800_000_000), clk.NowUnix())
}

func TestManualClockDeadlineFromOffset(t *testing.T) {
	clk := NewManualClock(time.Unix(1000, 0))
	assert.Equal(t, uint64(1060), clk.DeadlineFromOffset(60))
}

func TestSystemClockIsMonotonicEnough(t *testing.T) {
	clk := NewSystemClock()
	a := clk.NowUnix()
	b := clk.NowUnix()
	assert.GreaterOrEqual(t, b, a)
	assert.Greater(t, clk.DeadlineFromOffset(60), a)
}
