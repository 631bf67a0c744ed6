// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	tcpTimeout     = 10 * time.Second
	tcpIdleTimeout = 60 * time.Second
)

// TCPTransporter sends the same CRC-suffixed frames over a TCP stream,
// for drives reached through an RS485-to-Ethernet converter. Framing
// and parse rules are identical to the serial line; only the byte pipe
// differs.
type TCPTransporter struct {
	Address string
	// Timeout bounds dialing and each write.
	Timeout     time.Duration
	IdleTimeout time.Duration
	// StartTimeout is the first-byte window. Converters buffer, so the
	// per-baud formula does not apply; defaults to minStartTimeout.
	StartTimeout time.Duration

	Logger logger

	mu           sync.Mutex
	conn         net.Conn
	lastActivity time.Time
	closeTimer   *time.Timer
}

// NewTCPTransporter creates a TCP transporter with default timeouts.
func NewTCPTransporter(address string) *TCPTransporter {
	return &TCPTransporter{
		Address:     address,
		Timeout:     tcpTimeout,
		IdleTimeout: tcpIdleTimeout,
	}
}

// Connect dials the converter.
func (mb *TCPTransporter) Connect() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect()
}

func (mb *TCPTransporter) connect() error {
	if mb.conn == nil {
		dialer := net.Dialer{Timeout: mb.Timeout}
		conn, err := dialer.Dial("tcp", mb.Address)
		if err != nil {
			return fmt.Errorf("could not connect %s: %w", mb.Address, err)
		}
		mb.conn = conn
	}
	return nil
}

// Close closes the connection. Idempotent.
func (mb *TCPTransporter) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

func (mb *TCPTransporter) close() (err error) {
	if mb.conn != nil {
		err = mb.conn.Close()
		mb.conn = nil
	}
	return
}

// Send performs one request/response exchange.
func (mb *TCPTransporter) Send(aduRequest []byte) (aduResponse []byte, err error) {
	return mb.SendAndReceive(aduRequest, true)
}

// SendAndReceive mirrors SerialTransporter.SendAndReceive over TCP.
func (mb *TCPTransporter) SendAndReceive(request []byte, expectResponse bool) ([]byte, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.conn == nil {
		return nil, ErrNotOpen
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	pipe := &shortReadConn{conn: mb.conn}
	pipe.drain()

	mb.logf("servolink: send % x", request)
	timeout := mb.Timeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	if err := mb.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := mb.conn.Write(request); err != nil {
		// The stream is in an unknown state after a failed write.
		mb.close()
		return nil, err
	}

	if !expectResponse {
		return nil, nil
	}

	start := mb.StartTimeout
	if start <= 0 {
		start = minStartTimeout
	}
	response, err := readResponse(pipe, start)
	if err != nil {
		return nil, err
	}
	mb.logf("servolink: recv % x", response)
	return response, nil
}

func (mb *TCPTransporter) logf(format string, v ...interface{}) {
	if mb.Logger != nil {
		mb.Logger.Printf(format, v...)
	}
}

func (mb *TCPTransporter) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

func (mb *TCPTransporter) closeIdle() {
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

// shortReadConn adapts a net.Conn to the short, non-blocking-style
// reads readResponse expects, by arming a small deadline before every
// read and mapping its expiry to "no data".
type shortReadConn struct {
	conn net.Conn
}

func (s *shortReadConn) Read(b []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(portReadTimeout)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(b)
	if err != nil && isPollTimeout(err) {
		return n, nil
	}
	return n, err
}

// drain discards bytes a previous timed-out exchange may have left on
// the stream.
func (s *shortReadConn) drain() {
	buf := make([]byte, frameMaxSize)
	for i := 0; i < 8; i++ {
		n, err := s.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}
