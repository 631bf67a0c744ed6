// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Client declares register-level access to one drive, regardless of the
// underlying transport.
type Client interface {
	// ReadHoldingRegisters reads quantity parameter registers starting
	// at address (function 0x03).
	ReadHoldingRegisters(address, quantity uint16) ([]uint16, error)
	// ReadInputRegisters reads quantity status registers starting at
	// address (function 0x04).
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)
	// WriteSingleRegister writes one register (function 0x06) and
	// returns the value echoed by the drive.
	WriteSingleRegister(address, value uint16) (uint16, error)
	// ReadStatus reads count registers starting at startAddress with
	// functionCode 0x03 or 0x04, count capped at MaxBatchSpan. A short
	// or malformed payload is zero-padded to count unless the client
	// is strict.
	ReadStatus(startAddress uint16, count int, functionCode byte) ([]uint16, error)
}

type client struct {
	packager    Packager
	transporter Transporter
	strict      bool
}

// NewClient creates a client with the given backend handler. Batch
// reads are lenient: short payloads are padded with zeros so a single
// malformed register cannot abort a whole sweep.
func NewClient(handler ClientHandler) Client {
	return &client{packager: handler, transporter: handler}
}

// NewClient2 creates a client with the given backend packager and transporter.
func NewClient2(packager Packager, transporter Transporter) Client {
	return &client{packager: packager, transporter: transporter}
}

// NewStrictClient is NewClient with lenient batch padding disabled:
// ReadStatus surfaces an IncompleteFrameError instead of zero-filling.
func NewStrictClient(handler ClientHandler) Client {
	return &client{packager: handler, transporter: handler, strict: true}
}

// Request:
//
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register values       : Nx2 bytes
func (mb *client) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	return mb.readRegisters(FuncCodeReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters has the same frame shape as ReadHoldingRegisters
// with function code 0x04.
func (mb *client) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	return mb.readRegisters(FuncCodeReadInputRegisters, address, quantity)
}

func (mb *client) readRegisters(functionCode byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("servolink: quantity '%v' must be between '%v' and '%v'", quantity, 1, 125)
	}
	request := ProtocolDataUnit{
		FunctionCode: functionCode,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	count := int(response.Data[0])
	length := len(response.Data) - 1
	if count != length {
		return nil, fmt.Errorf("servolink: response data size '%v' does not match count '%v'", length, count)
	}
	// A drive may answer with a CRC-valid frame declaring fewer
	// registers than asked for (byte count zero included); the response
	// is rejected rather than returned short.
	if count != 2*int(quantity) {
		return nil, fmt.Errorf("servolink: response byte count '%v' does not match requested quantity '%v'", count, quantity)
	}
	return registerValues(response.Data[1:]), nil
}

// Request:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response: echo of the request.
func (mb *client) WriteSingleRegister(address, value uint16) (uint16, error) {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         dataBlock(address, value),
	}
	response, err := mb.send(&request)
	if err != nil {
		return 0, err
	}
	if len(response.Data) != 4 {
		return 0, fmt.Errorf("servolink: response data size '%v' does not match expected '%v'", len(response.Data), 4)
	}
	respAddress := binary.BigEndian.Uint16(response.Data)
	if address != respAddress {
		return 0, fmt.Errorf("servolink: response address '%v' does not match request '%v'", respAddress, address)
	}
	respValue := binary.BigEndian.Uint16(response.Data[2:])
	if value != respValue {
		return 0, fmt.Errorf("servolink: response value '%v' does not match request '%v'", respValue, value)
	}
	return respValue, nil
}

// ReadStatus is the batch reader. The zero-padding of short payloads is
// a deliberate tradeoff: one failed register bank must not abort the
// rest of a polling sweep. Strict clients get the error instead.
func (mb *client) ReadStatus(startAddress uint16, count int, functionCode byte) ([]uint16, error) {
	if functionCode != FuncCodeReadHoldingRegisters && functionCode != FuncCodeReadInputRegisters {
		return nil, &InvalidFunctionError{FunctionCode: functionCode}
	}
	if count < 1 || count > MaxBatchSpan {
		return nil, fmt.Errorf("servolink: count '%v' must be between '%v' and '%v'", count, 1, MaxBatchSpan)
	}
	request := ProtocolDataUnit{
		FunctionCode: functionCode,
		Data:         dataBlock(startAddress, uint16(count)),
	}
	response, err := mb.send(&request)
	if err != nil {
		return nil, err
	}
	declared := int(response.Data[0])
	data := response.Data[1:]
	if declared < len(data) {
		data = data[:declared]
	}
	values := registerValues(data)
	if len(values) < count {
		if mb.strict {
			return nil, &IncompleteFrameError{FunctionCode: functionCode, Want: count * 2, Got: len(data)}
		}
		padded := make([]uint16, count)
		copy(padded, values)
		return padded, nil
	}
	return values[:count], nil
}

func (mb *client) send(request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	aduRequest, err := mb.packager.Encode(request)
	if err != nil {
		return nil, err
	}
	aduResponse, err := mb.transporter.Send(aduRequest)
	if err != nil {
		return nil, err
	}
	if err := mb.packager.Verify(aduRequest, aduResponse); err != nil {
		return nil, err
	}
	response, err := mb.packager.Decode(aduResponse)
	if err != nil {
		return nil, err
	}
	if response.FunctionCode != request.FunctionCode {
		return nil, fmt.Errorf("servolink: response function code %#02x does not match request %#02x", response.FunctionCode, request.FunctionCode)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("servolink: response data is empty")
	}
	return response, nil
}

// registerValues slices payload bytes into big-endian 16-bit register
// values. A trailing odd byte counts as the high byte of its slot.
func registerValues(data []byte) []uint16 {
	values := make([]uint16, 0, (len(data)+1)/2)
	for i := 0; i < len(data); i += 2 {
		hi := uint16(data[i])
		var lo uint16
		if i+1 < len(data) {
			lo = uint16(data[i+1])
		}
		values = append(values, hi<<8|lo)
	}
	return values
}

// AddressRun is one contiguous range read produced by CoalesceAddresses.
type AddressRun struct {
	Start uint16
	Count int
}

// CoalesceAddresses groups a sparse set of register addresses into runs
// of contiguous addresses capped at maxSpan per run, to minimize bus
// round-trips. Duplicates are dropped; maxSpan <= 0 means MaxBatchSpan.
func CoalesceAddresses(addresses []uint16, maxSpan int) []AddressRun {
	if maxSpan <= 0 {
		maxSpan = MaxBatchSpan
	}
	if len(addresses) == 0 {
		return nil
	}
	sorted := make([]uint16, len(addresses))
	copy(sorted, addresses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var runs []AddressRun
	run := AddressRun{Start: sorted[0], Count: 1}
	for _, addr := range sorted[1:] {
		if addr == run.Start+uint16(run.Count)-1 {
			continue
		}
		if addr == run.Start+uint16(run.Count) && run.Count < maxSpan {
			run.Count++
			continue
		}
		runs = append(runs, run)
		run = AddressRun{Start: addr, Count: 1}
	}
	return append(runs, run)
}

// dataBlock creates a sequence of big-endian uint16 fields.
func dataBlock(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}
