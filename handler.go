// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

// RTUClientHandler implements Packager and Transporter over the serial
// line.
type RTUClientHandler struct {
	RTUPackager
	SerialTransporter
}

// NewRTUClientHandler allocates and initializes a RTUClientHandler with
// default line parameters (9600 8N1).
func NewRTUClientHandler(address string) *RTUClientHandler {
	handler := &RTUClientHandler{}
	handler.Address = address
	handler.BaudRate = 9600
	handler.DataBits = 8
	handler.StopBits = 1
	handler.Parity = "N"
	handler.Timeout = portReadTimeout
	handler.IdleTimeout = serialIdleTimeout
	return handler
}

// TCPClientHandler implements Packager and Transporter over a TCP
// stream to an RS485 converter.
type TCPClientHandler struct {
	RTUPackager
	TCPTransporter
}

// NewTCPClientHandler allocates and initializes a TCPClientHandler.
func NewTCPClientHandler(address string) *TCPClientHandler {
	handler := &TCPClientHandler{}
	handler.Address = address
	handler.Timeout = tcpTimeout
	handler.IdleTimeout = tcpIdleTimeout
	return handler
}
