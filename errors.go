// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when an exchange is attempted with no open
// line. The caller must open the transport first.
var ErrNotOpen = errors.New("servolink: line not open")

// ErrTimeout is returned when no response byte arrives within the
// start-of-frame window. Usually a wrong baud rate, a disconnected
// device or an unresponsive station address. Retryable by the caller.
var ErrTimeout = errors.New("servolink: no response within start-of-frame window")

// CRCError is returned when the received bytes fail the integrity
// check. Indicates line noise or framing desync; retryable, but
// repeated occurrences should be surfaced to the operator.
type CRCError struct {
	Got, Want uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("servolink: response crc %#04x does not match computed %#04x", e.Got, e.Want)
}

// ShortResponseError is returned when a frame ends below the minimum
// length of 5 bytes (3 header + 2 CRC).
type ShortResponseError struct {
	Length int
}

func (e *ShortResponseError) Error() string {
	return fmt.Sprintf("servolink: response length %d below minimum %d", e.Length, frameMinSize)
}

// IncompleteFrameError is returned when fewer bytes than the frame
// declared arrive before the bounded-read deadline. A transient bus
// error; retryable.
type IncompleteFrameError struct {
	FunctionCode byte
	Want, Got    int
}

func (e *IncompleteFrameError) Error() string {
	return fmt.Sprintf("servolink: incomplete frame for function %#02x: got %d of %d bytes", e.FunctionCode, e.Got, e.Want)
}

// InvalidFunctionError is returned when a batch read is requested with
// a function code other than 0x03 or 0x04. A programming error, not
// retryable.
type InvalidFunctionError struct {
	FunctionCode byte
}

func (e *InvalidFunctionError) Error() string {
	return fmt.Sprintf("servolink: function %#02x not valid for register batch read", e.FunctionCode)
}
