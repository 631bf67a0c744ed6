// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testHandler answers every exchange from a scripted function.
type testHandler struct {
	RTUPackager
	requests [][]byte
	respond  func(aduRequest []byte) ([]byte, error)
}

func (h *testHandler) Send(aduRequest []byte) ([]byte, error) {
	h.requests = append(h.requests, append([]byte{}, aduRequest...))
	return h.respond(aduRequest)
}

func (h *testHandler) Connect() error { return nil }
func (h *testHandler) Close() error   { return nil }

func respondWith(frames ...[]byte) func([]byte) ([]byte, error) {
	i := 0
	return func([]byte) ([]byte, error) {
		frame := frames[i%len(frames)]
		i++
		return frame, nil
	}
}

func TestClientReadHoldingRegisters(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x03, 0x04, 0x00, 0x0A, 0x00, 0x0B, 0x9B, 0xF6}),
	}
	mb := NewClient(handler)
	values, err := mb.ReadHoldingRegisters(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x000A, 0x000B}, values)
	require.Len(t, handler.requests, 1)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x02, 0x95, 0xCB}, handler.requests[0])
}

func TestClientReadInputRegisters(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x04, 0x04, 0x00, 0x0A, 0x00, 0x0B, 0x9A, 0x41}),
	}
	mb := NewClient(handler)
	values, err := mb.ReadInputRegisters(10, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x000A, 0x000B}, values)
}

// A CRC-valid frame declaring zero payload bytes must surface as an
// error, never as an empty value slice a caller would index into.
func TestClientReadZeroByteCount(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x03, 0x00, 0x20, 0xF0}),
	}
	mb := NewClient(handler)
	values, err := mb.ReadHoldingRegisters(0x05, 1)
	assert.Error(t, err)
	assert.Empty(t, values)
}

func TestClientReadCountQuantityMismatch(t *testing.T) {
	// One register delivered, two requested; intact frame otherwise.
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x38, 0x43}),
	}
	mb := NewClient(handler)
	_, err := mb.ReadHoldingRegisters(0x05, 2)
	assert.ErrorContains(t, err, "does not match requested quantity")
}

func TestClientReadQuantityBounds(t *testing.T) {
	handler := &testHandler{respond: respondWith(nil)}
	mb := NewClient(handler)
	_, err := mb.ReadHoldingRegisters(0, 0)
	assert.Error(t, err)
	_, err = mb.ReadHoldingRegisters(0, 126)
	assert.Error(t, err)
}

func TestClientWriteSingleRegister(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond: func(aduRequest []byte) ([]byte, error) {
			// The drive echoes the request.
			return append([]byte{}, aduRequest...), nil
		},
	}
	mb := NewClient(handler)
	value, err := mb.WriteSingleRegister(0x0062, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), value)
}

func TestClientWriteEchoMismatch(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x06, 0x00, 0x0A, 0x00, 0x7B, 0xE9, 0xEB}),
	}
	mb := NewClient(handler)
	_, err := mb.WriteSingleRegister(0x000A, 0x007C)
	assert.Error(t, err)
}

func TestClientReadStatusPadsShortPayload(t *testing.T) {
	// Two registers requested, the drive returns one.
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x38, 0x43}),
	}
	mb := NewClient(handler)
	values, err := mb.ReadStatus(5, 2, FuncCodeReadHoldingRegisters)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x000A, 0x0000}, values)
}

func TestClientReadStatusStrict(t *testing.T) {
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x38, 0x43}),
	}
	mb := NewStrictClient(handler)
	_, err := mb.ReadStatus(5, 2, FuncCodeReadHoldingRegisters)
	var incomplete *IncompleteFrameError
	assert.ErrorAs(t, err, &incomplete)
}

func TestClientReadStatusInvalidFunction(t *testing.T) {
	handler := &testHandler{respond: respondWith(nil)}
	mb := NewClient(handler)
	_, err := mb.ReadStatus(0, 1, 0x05)
	var invalid *InvalidFunctionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, byte(0x05), invalid.FunctionCode)
	assert.Empty(t, handler.requests)
}

func TestClientReadStatusCountBounds(t *testing.T) {
	handler := &testHandler{respond: respondWith(nil)}
	mb := NewClient(handler)
	_, err := mb.ReadStatus(0, 0, FuncCodeReadInputRegisters)
	assert.Error(t, err)
	_, err = mb.ReadStatus(0, MaxBatchSpan+1, FuncCodeReadInputRegisters)
	assert.Error(t, err)
}

func TestClientFunctionCodeMismatch(t *testing.T) {
	// A frame with an unexpected function code survives transport (CRC
	// is valid) but must be rejected by the client.
	handler := &testHandler{
		RTUPackager: RTUPackager{StationID: 1},
		respond:     respondWith([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1}),
	}
	mb := NewClient(handler)
	_, err := mb.ReadHoldingRegisters(1, 2)
	assert.Error(t, err)
}

func TestCoalesceAddresses(t *testing.T) {
	got := CoalesceAddresses([]uint16{10, 11, 12, 20}, MaxBatchSpan)
	want := []AddressRun{{Start: 10, Count: 3}, {Start: 20, Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected runs: %s", diff)
	}
}

func TestCoalesceAddressesSpanCap(t *testing.T) {
	addresses := make([]uint16, 10)
	for i := range addresses {
		addresses[i] = uint16(i)
	}
	got := CoalesceAddresses(addresses, MaxBatchSpan)
	want := []AddressRun{{Start: 0, Count: 8}, {Start: 8, Count: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected runs: %s", diff)
	}
}

func TestCoalesceAddressesEmpty(t *testing.T) {
	assert.Nil(t, CoalesceAddresses(nil, MaxBatchSpan))
}

// Every input address must be covered by exactly one run, runs must be
// sorted, disjoint, and no wider than the span cap.
func TestCoalesceAddressesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		addresses := rapid.SliceOfN(rapid.Uint16Range(0, 1000), 1, 50).Draw(t, "addresses")
		maxSpan := rapid.IntRange(1, MaxBatchSpan).Draw(t, "maxSpan")

		runs := CoalesceAddresses(addresses, maxSpan)

		covered := map[uint16]bool{}
		prevEnd := -1
		for _, run := range runs {
			if run.Count < 1 || run.Count > maxSpan {
				t.Fatalf("run %+v exceeds span %d", run, maxSpan)
			}
			if int(run.Start) <= prevEnd {
				t.Fatalf("runs overlap or are unsorted: %+v", runs)
			}
			for i := 0; i < run.Count; i++ {
				covered[run.Start+uint16(i)] = true
			}
			prevEnd = int(run.Start) + run.Count - 1
		}
		for _, addr := range addresses {
			if !covered[addr] {
				t.Fatalf("address %d not covered by %+v", addr, runs)
			}
		}
	})
}

func TestCoalesceAddressesDeduplicates(t *testing.T) {
	got := CoalesceAddresses([]uint16{5, 5, 6, 6, 7}, MaxBatchSpan)
	want := []AddressRun{{Start: 5, Count: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected runs: %s", diff)
	}
}
