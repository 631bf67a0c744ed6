// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package servolink provides a master-side client for the Modbus-RTU-like
register protocol spoken by RS-485 servo drives.

A frame on the wire is the station address, the function code, a payload
whose multi-byte fields are big-endian, and a CRC16 appended low byte
first. The mixed endianness is a protocol requirement and is preserved
exactly. Only register reads (0x03/0x04) and the single-register write
(0x06) are interpreted; frames with other function codes are accepted as
opaque byte sequences and validated by their trailing CRC alone.
*/
package servolink

// Function codes understood by the drives.
const (
	// FuncCodeReadHoldingRegisters reads parameter registers.
	FuncCodeReadHoldingRegisters = 0x03
	// FuncCodeReadInputRegisters reads status registers.
	FuncCodeReadInputRegisters = 0x04
	// FuncCodeWriteSingleRegister writes one parameter register. The
	// drive echoes the full request back.
	FuncCodeWriteSingleRegister = 0x06
)

// MaxBatchSpan is the largest number of registers a drive serves in one
// range read.
const MaxBatchSpan = 8

// logger is the interface to the required logging functions
type logger interface {
	Printf(format string, v ...interface{})
}

// ProtocolDataUnit (PDU) is the function code and payload of a frame,
// independent of the underlying transport.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Packager specifies the framing layer.
type Packager interface {
	SetStation(station byte)
	Encode(pdu *ProtocolDataUnit) (adu []byte, err error)
	Decode(adu []byte) (pdu *ProtocolDataUnit, err error)
	Verify(aduRequest []byte, aduResponse []byte) (err error)
}

// Transporter specifies the transport layer. Send performs one full
// blocking request/response exchange.
type Transporter interface {
	Send(aduRequest []byte) (aduResponse []byte, err error)
}

// Connector exposes the underlying handler capability for open/connect and close the transport channel.
type Connector interface {
	Connect() error
	Close() error
}

// ClientHandler is the interface that groups the Packager, Transporter
// and Connector methods.
type ClientHandler interface {
	Packager
	Transporter
	Connector
}
