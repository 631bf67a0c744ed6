// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	// startChars is the number of character times to wait for the
	// first response byte. bitsPerChar accounts for start + 8 data +
	// parity + stop bits.
	startChars  = 200
	bitsPerChar = 10
	// minStartTimeout keeps the start-of-frame window sane at high
	// baud rates.
	minStartTimeout = 500 * time.Millisecond

	// readDeadline bounds each remaining-bytes read once a frame has
	// started.
	readDeadline = time.Second
	// silenceWindow terminates frames of unknown function codes.
	silenceWindow = 50 * time.Millisecond
	pollInterval  = time.Millisecond

	// portReadTimeout is the per-read timeout handed to the serial
	// driver. All real waiting happens in the transport's own loops.
	portReadTimeout   = 5 * time.Millisecond
	serialIdleTimeout = 60 * time.Second
)

// baudRates is the standard set the drives negotiate.
var baudRates = map[int]bool{9600: true, 19200: true, 38400: true, 57600: true, 115200: true}

// SerialTransporter owns the RS-485 line. It serializes access so only
// one exchange is in flight at a time; the bus is half-duplex and
// overlapping transactions would corrupt the line.
type SerialTransporter struct {
	// Serial port configuration.
	serial.Config

	Logger      logger
	IdleTimeout time.Duration

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// NewSerialTransporter creates a serial transporter with default
// configuration (9600 8N1).
func NewSerialTransporter(address string) *SerialTransporter {
	return &SerialTransporter{
		Config: serial.Config{
			Address:  address,
			BaudRate: 9600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  portReadTimeout,
		},
		IdleTimeout: serialIdleTimeout,
	}
}

// Open closes any open line first, then opens address with the given
// line parameters. The line is always 8 data bits, 1 stop bit.
func (mb *SerialTransporter) Open(address string, baudRate int, parity string) error {
	if !baudRates[baudRate] {
		return fmt.Errorf("servolink: unsupported baud rate %d", baudRate)
	}
	switch parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("servolink: parity %q must be one of N, E, O", parity)
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.close()
	mb.Config.Address = address
	mb.Config.BaudRate = baudRate
	mb.Config.DataBits = 8
	mb.Config.StopBits = 1
	mb.Config.Parity = parity
	if mb.Config.Timeout <= 0 {
		mb.Config.Timeout = portReadTimeout
	}
	return mb.connect()
}

// Connect opens the port with the current configuration.
func (mb *SerialTransporter) Connect() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect()
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (mb *SerialTransporter) connect() error {
	if mb.port == nil {
		port, err := serial.Open(&mb.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", mb.Config.Address, err)
		}
		mb.port = port
	}
	return nil
}

// Close closes the port. Idempotent.
func (mb *SerialTransporter) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (mb *SerialTransporter) close() (err error) {
	if mb.port != nil {
		err = mb.port.Close()
		mb.port = nil
	}
	return
}

// Send performs one request/response exchange.
func (mb *SerialTransporter) Send(aduRequest []byte) (aduResponse []byte, err error) {
	return mb.SendAndReceive(aduRequest, true)
}

// SendAndReceive writes request and reads back one full response
// frame. With expectResponse false the call returns right after the
// write (broadcast / fire-and-forget). The exchange holds the line
// lock for its whole duration and cannot be cancelled midway; errors
// are fatal to this call only and the transport never retries.
func (mb *SerialTransporter) SendAndReceive(request []byte, expectResponse bool) ([]byte, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.port == nil {
		return nil, ErrNotOpen
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	// Leftover partial frames from prior timeouts must not bleed into
	// this exchange.
	mb.purgeInput()

	mb.logf("servolink: send % x", request)
	if n, err := mb.port.Write(request); err != nil {
		return nil, err
	} else if n < len(request) {
		return nil, io.ErrShortWrite
	}

	if !expectResponse {
		return nil, nil
	}

	response, err := readResponse(mb.port, mb.startTimeout())
	if err != nil {
		return nil, err
	}
	mb.logf("servolink: recv % x", response)
	return response, nil
}

// purgeInput discards stale bytes sitting in the input buffer. Bounded
// so a babbling line cannot stall the exchange.
func (mb *SerialTransporter) purgeInput() {
	buf := make([]byte, frameMaxSize)
	for i := 0; i < 8; i++ {
		n, err := mb.port.Read(buf)
		if n > 0 {
			mb.logf("servolink: purged %d stale bytes", n)
		}
		if n == 0 || err != nil {
			return
		}
	}
}

// startTimeout scales the is-the-device-even-responding window with
// how slow the line is: startChars character times, floored at
// minStartTimeout.
func (mb *SerialTransporter) startTimeout() time.Duration {
	baud := mb.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	calc := time.Duration(float64(time.Second) / float64(baud) * startChars * bitsPerChar)
	if calc < minStartTimeout {
		return minStartTimeout
	}
	return calc
}

func (mb *SerialTransporter) logf(format string, v ...interface{}) {
	if mb.Logger != nil {
		mb.Logger.Printf(format, v...)
	}
}

func (mb *SerialTransporter) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (mb *SerialTransporter) closeIdle() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(mb.lastActivity); idle >= mb.IdleTimeout {
		mb.logf("servolink: closing connection due to idle timeout: %v", idle)
		mb.close()
	}
}

// readResponse assembles one response frame from r. r is expected to
// return quickly with whatever is available; all waiting is done here.
func readResponse(r io.Reader, startTimeout time.Duration) ([]byte, error) {
	first, err := readFirst(r, startTimeout)
	if err != nil {
		return nil, err
	}

	response := make([]byte, 3, frameMaxSize)
	response[0] = first
	if n, err := readBounded(r, response[1:3], readDeadline); err != nil {
		return nil, err
	} else if n < 2 {
		return nil, &IncompleteFrameError{FunctionCode: 0, Want: 3, Got: 1 + n}
	}

	functionCode := response[1]
	if total, known := responseShape(functionCode, response[2]); known {
		rest := make([]byte, total-3)
		n, err := readBounded(r, rest, readDeadline)
		if err != nil {
			return nil, err
		}
		if n < len(rest) {
			return nil, &IncompleteFrameError{FunctionCode: functionCode, Want: total, Got: 3 + n}
		}
		response = append(response, rest...)
	} else {
		// Unknown function code: the frame length cannot be derived,
		// so inter-byte silence is the end-of-frame condition. This is
		// a normal terminal state, not an error.
		response, err = readUntilSilence(r, response)
		if err != nil {
			return nil, err
		}
		if len(response) < frameMinSize {
			return nil, &ShortResponseError{Length: len(response)}
		}
	}

	var crc crc
	crc.reset().pushBytes(response[:len(response)-2])
	got := uint16(response[len(response)-1])<<8 | uint16(response[len(response)-2])
	if got != crc.value() {
		return nil, &CRCError{Got: got, Want: crc.value()}
	}
	return response, nil
}

// readFirst waits for the first response byte up to timeout.
func readFirst(r io.Reader, timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			return buf[0], nil
		}
		if err != nil && !isPollTimeout(err) {
			return 0, err
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// readBounded fills b, giving up after timeout. It returns how many
// bytes arrived; a short count is not an error here, callers decide.
func readBounded(r io.Reader, b []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	n := 0
	for n < len(b) {
		nn, err := r.Read(b[n:])
		n += nn
		if err != nil && !isPollTimeout(err) {
			return n, err
		}
		if nn == 0 {
			if time.Now().After(deadline) {
				return n, nil
			}
			time.Sleep(pollInterval)
		}
	}
	return n, nil
}

// readUntilSilence accumulates bytes until a read yields nothing for
// silenceWindow.
func readUntilSilence(r io.Reader, response []byte) ([]byte, error) {
	buf := make([]byte, frameMaxSize)
	last := time.Now()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			response = append(response, buf[:n]...)
			last = time.Now()
		}
		if err != nil && !isPollTimeout(err) {
			return nil, err
		}
		if n == 0 {
			if time.Since(last) > silenceWindow {
				return response, nil
			}
			time.Sleep(pollInterval)
		}
		if len(response) > frameMaxSize {
			return response, nil
		}
	}
}

// isPollTimeout reports whether err is a per-read timeout from the
// underlying line, which the polling loops treat as "no data yet".
func isPollTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
