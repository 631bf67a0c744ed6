// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"fmt"
)

const (
	// frameMinSize is station + function + one header byte + CRC.
	frameMinSize = 5
	frameMaxSize = 256
)

// RTUPackager implements the Packager interface for the drives' RTU
// framing.
type RTUPackager struct {
	StationID byte
}

// SetStation sets the station address for subsequent frames.
func (mb *RTUPackager) SetStation(station byte) {
	mb.StationID = station
}

// Encode wraps a PDU into a frame:
//
//	Station address : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes, multi-byte fields big-endian
//	CRC             : 2 bytes, low byte first
func (mb *RTUPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	length := len(pdu.Data) + 4
	if length > frameMaxSize {
		return nil, fmt.Errorf("servolink: length of data '%v' must not be bigger than '%v'", length, frameMaxSize)
	}
	adu = make([]byte, length)

	adu[0] = mb.StationID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	var crc crc
	crc.reset().pushBytes(adu[0 : length-2])
	checksum := crc.value()

	adu[length-2] = byte(checksum)
	adu[length-1] = byte(checksum >> 8)
	return
}

// Verify verifies response length and station address.
func (mb *RTUPackager) Verify(aduRequest []byte, aduResponse []byte) (err error) {
	length := len(aduResponse)
	if length < frameMinSize {
		return &ShortResponseError{Length: length}
	}
	if aduResponse[0] != aduRequest[0] {
		return fmt.Errorf("servolink: response station '%v' does not match request '%v'", aduResponse[0], aduRequest[0])
	}
	return nil
}

// Decode extracts the PDU from a frame and verifies the trailing CRC.
func (mb *RTUPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	length := len(adu)
	if length < frameMinSize {
		return nil, &ShortResponseError{Length: length}
	}
	var crc crc
	crc.reset().pushBytes(adu[0 : length-2])
	checksum := uint16(adu[length-1])<<8 | uint16(adu[length-2])
	if checksum != crc.value() {
		return nil, &CRCError{Got: checksum, Want: crc.value()}
	}
	pdu = &ProtocolDataUnit{}
	pdu.FunctionCode = adu[1]
	pdu.Data = adu[2 : length-2]
	return
}

// responseShape returns the total response length implied by the first
// three bytes of a frame. known is false for function codes whose
// response length cannot be derived; those frames are terminated by
// inter-byte silence instead.
func responseShape(functionCode, third byte) (total int, known bool) {
	switch functionCode {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		// third byte declares the payload length
		return 3 + int(third) + 2, true
	case FuncCodeWriteSingleRegister:
		// fixed-size echo of the request
		return 8, true
	default:
		return 0, false
	}
}
