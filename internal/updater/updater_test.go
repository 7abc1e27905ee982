package updater

import (
	"bytes"
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/things-go/modbus-sim/internal/register"
)

var seed = []uint16{100, 200, 300, 400, 500, 0, 0, 0, 0, 0, 250}

func newStore(t *testing.T) *register.Store {
	t.Helper()
	s := register.New(Quantity)
	require.NoError(t, s.Initialize(seed))
	return s
}

// syncBuffer logrus writes from the timing goroutine while the test reads.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (sf *syncBuffer) Write(p []byte) (int, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.b.Write(p)
}

func (sf *syncBuffer) String() string {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.b.String()
}

func newLogger() (*logrus.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	return l, buf
}

func TestUpdater_StepRanges(t *testing.T) {
	store := newStore(t)
	l, _ := newLogger()
	u := New(store, WithRand(rand.New(rand.NewSource(1))), WithLogger(l))

	for i := 0; i < 1000; i++ {
		values, err := u.Step()
		require.NoError(t, err)
		got, err := store.Read(0, Quantity)
		require.NoError(t, err)
		require.Equal(t, values, got)

		for addr := 0; addr < GenericCount; addr++ {
			require.LessOrEqual(t, got[addr], uint16(GenericMax), "register %d", addr)
		}
		for addr := GenericCount; addr < TemperatureAddr; addr++ {
			require.Zero(t, got[addr], "register %d", addr)
		}
		require.GreaterOrEqual(t, got[TemperatureAddr], uint16(TemperatureMin))
		require.LessOrEqual(t, got[TemperatureAddr], uint16(TemperatureMax))
	}
}

func TestUpdater_NextCoversRange(t *testing.T) {
	u := New(nil, WithRand(rand.New(rand.NewSource(7))))
	var sawTempMin, sawTempMax bool
	for i := 0; i < 20000; i++ {
		v := u.Next()
		sawTempMin = sawTempMin || v[TemperatureAddr] == TemperatureMin
		sawTempMax = sawTempMax || v[TemperatureAddr] == TemperatureMax
	}
	assert.True(t, sawTempMin, "temperature lower bound never drawn")
	assert.True(t, sawTempMax, "temperature upper bound never drawn")
}

func TestUpdater_ConsecutiveCyclesDiffer(t *testing.T) {
	u := New(newStore(t), WithLogger(logrus.New()))
	first, err := u.Step()
	require.NoError(t, err)
	second, err := u.Step()
	require.NoError(t, err)

	// 1001^5 * 101 combinations, equal vectors mean a broken source
	assert.NotEqual(t, first, second)
}

func TestUpdater_StepLogs(t *testing.T) {
	l, buf := newLogger()
	u := New(newStore(t), WithLogger(l))
	values, err := u.Step()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[SIM] Reg0=")
	for _, want := range []string{
		"Reg0=" + itoa(values[0]),
		"Reg1=" + itoa(values[1]),
		"Reg2=" + itoa(values[2]),
		"Temp=" + itoa(values[TemperatureAddr]),
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestUpdater_StepStoreTooSmall(t *testing.T) {
	l, _ := newLogger()
	small := register.New(Quantity - 1)
	u := New(small, WithLogger(l))
	_, err := u.Step()
	assert.Error(t, err)

	got, _ := small.Read(0, Quantity-1)
	assert.Equal(t, make([]uint16, Quantity-1), got)
}

func TestUpdater_Start(t *testing.T) {
	store := newStore(t)
	l, buf := newLogger()
	u := New(store, WithInterval(50*time.Millisecond), WithLogger(l))
	assert.Equal(t, 50*time.Millisecond, u.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	u.Start(ctx)

	// seed is untouched before the first interval elapses
	got, _ := store.Read(0, Quantity)
	assert.Equal(t, seed, got)

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "[SIM]") >= 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(150 * time.Millisecond)
	n := strings.Count(buf.String(), "[SIM]")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, n, strings.Count(buf.String(), "[SIM]"), "updates continued after cancel")
}

func TestUpdater_StartWaitsOneInterval(t *testing.T) {
	store := newStore(t)
	l, buf := newLogger()
	u := New(store, WithInterval(400*time.Millisecond), WithLogger(l))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	u.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	assert.NotContains(t, buf.String(), "[SIM]", "updated before the first interval")

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "[SIM]")
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestWithInterval_IgnoresNonPositive(t *testing.T) {
	u := New(nil, WithInterval(0), WithInterval(-time.Second))
	assert.Equal(t, DefaultInterval, u.Interval())
}

func itoa(v uint16) string {
	return strconv.Itoa(int(v))
}
