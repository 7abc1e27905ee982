package probe

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkgos/timing/v4"

	"github.com/things-go/modbus-sim/internal/protocol"
)

func TestDecode(t *testing.T) {
	f32 := math.Float32bits(21.5)
	f64 := math.Float64bits(-1234.5678)
	tests := []struct {
		name    string
		tag     Tag
		regs    []uint16
		want    float64
		wantErr bool
	}{
		{"int16 negative", Tag{ID: "a", DataType: Int16}, []uint16{0xffff}, -1, false},
		{"uint16", Tag{ID: "a", DataType: UInt16}, []uint16{0xffff}, 65535, false},
		{"uint16 scaled", Tag{ID: "a", DataType: UInt16, Scale: 0.1}, []uint16{250}, 25, false},
		{"uint16 offset", Tag{ID: "a", DataType: UInt16, Scale: 2, Offset: -10}, []uint16{5}, 0, false},
		{"int32", Tag{ID: "a", DataType: Int32}, []uint16{0xffff, 0xfffe}, -2, false},
		{"uint32", Tag{ID: "a", DataType: UInt32}, []uint16{0x0001, 0x0000}, 65536, false},
		{"float32", Tag{ID: "a", DataType: Float32}, []uint16{uint16(f32 >> 16), uint16(f32)}, 21.5, false},
		{
			"float64",
			Tag{ID: "a", DataType: Float64},
			[]uint16{uint16(f64 >> 48), uint16(f64 >> 32), uint16(f64 >> 16), uint16(f64)},
			-1234.5678,
			false,
		},
		{"too few registers", Tag{ID: "a", DataType: UInt32}, []uint16{1}, 0, true},
		{"unknown type", Tag{ID: "a", DataType: DataType(42)}, []uint16{1, 2, 3, 4}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.tag, tt.regs)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataType_String(t *testing.T) {
	assert.Equal(t, "float32", Float32.String())
	assert.Equal(t, "DataType(9)", DataType(9).String())
}

type fakeReader struct {
	mu    sync.Mutex
	regs  []uint16
	fail  map[uint16]error
	calls int
}

func (sf *fakeReader) ReadHoldingRegisters(_ byte, address, quantity uint16) ([]uint16, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.calls++
	if err := sf.fail[address]; err != nil {
		return nil, err
	}
	if int(address)+int(quantity) > len(sf.regs) {
		return nil, &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataAddress}
	}
	return append([]uint16(nil), sf.regs[address:address+quantity]...), nil
}

func (sf *fakeReader) Calls() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.calls
}

func TestProbe_AddTag(t *testing.T) {
	p := New(&fakeReader{}, 1)
	require.NoError(t, p.AddTag(Tag{ID: "t", Address: 10, DataType: UInt16}))
	assert.Error(t, p.AddTag(Tag{ID: "t", Address: 1}), "duplicate id")
	assert.Error(t, p.AddTag(Tag{Address: 1}), "empty id")
	assert.Error(t, p.AddTag(Tag{ID: "x", DataType: DataType(42)}), "unknown type")
	assert.Error(t, p.AddTag(Tag{ID: "y", Address: 0xffff, DataType: UInt32}), "past last register")
}

func TestProbe_Poll(t *testing.T) {
	reader := &fakeReader{
		regs: []uint16{100, 200, 300, 400, 500, 0, 0, 0, 0, 0, 250},
		fail: map[uint16]error{3: errors.New("boom")},
	}
	var got []Result
	p := New(reader, 1, WithHandler(HandlerFunc(func(r Result) { got = append(got, r) })))
	for _, tag := range DefaultTags() {
		require.NoError(t, p.AddTag(tag))
	}

	results := p.Poll()
	require.Len(t, results, 6)
	assert.Equal(t, results, got)

	assert.Equal(t, 100.0, results[0].Value)
	assert.Equal(t, 300.0, results[2].Value)
	assert.Error(t, results[3].Err)
	assert.EqualValues(t, 1, results[3].ErrCnt)
	assert.Equal(t, "temperature", results[5].Tag.ID)
	assert.InDelta(t, 25.0, results[5].Value, 1e-9)

	results = p.Poll()
	assert.EqualValues(t, 2, results[0].TxCnt)
	assert.EqualValues(t, 0, results[0].ErrCnt)
	assert.EqualValues(t, 2, results[3].ErrCnt)
}

func TestProbe_Start(t *testing.T) {
	reader := &fakeReader{regs: []uint16{1, 2}}
	p := New(reader, 1, WithScanRate(20*time.Millisecond))
	require.NoError(t, p.AddTag(Tag{ID: "a", Address: 0, DataType: UInt16}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool { return reader.Calls() >= 3 }, 3*time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(100 * time.Millisecond)
	n := reader.Calls()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, n, reader.Calls(), "polls continued after cancel")

	assert.Error(t, New(reader, 0).Start(context.Background()))
}

type slowReader struct {
	delay time.Duration
}

func (sf slowReader) ReadHoldingRegisters(_ byte, _, quantity uint16) ([]uint16, error) {
	time.Sleep(sf.delay)
	return make([]uint16, quantity), nil
}

func TestProbe_SlowReadDoesNotStallTimers(t *testing.T) {
	p := New(slowReader{delay: time.Second}, 1, WithScanRate(10*time.Millisecond))
	require.NoError(t, p.AddTag(Tag{ID: "a", Address: 0, DataType: UInt16}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	// let the first slow poll begin
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	fired := make(chan time.Duration, 1)
	timing.AddJobFunc(func() { fired <- time.Since(start) }, 20*time.Millisecond)
	select {
	case d := <-fired:
		assert.Less(t, d, 300*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated timer never fired")
	}
}
