// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package servolink

// crc is the running CRC16 over a frame, reflected polynomial 0xA001,
// initial value 0xFFFF. The drives use the same checksum as Modbus RTU.
type crc struct {
	value16 uint16
}

func (c *crc) reset() *crc {
	c.value16 = 0xFFFF
	return c
}

func (c *crc) pushByte(b byte) *crc {
	c.value16 ^= uint16(b)
	for i := 0; i < 8; i++ {
		if c.value16&1 != 0 {
			c.value16 = (c.value16 >> 1) ^ 0xA001
		} else {
			c.value16 >>= 1
		}
	}
	return c
}

func (c *crc) pushBytes(bs []byte) *crc {
	for _, b := range bs {
		c.pushByte(b)
	}
	return c
}

func (c *crc) value() uint16 {
	return c.value16
}

// ComputeCRC returns the CRC16 of bs. It is exported for external
// diagnostic tooling; the frame codec validates checksums itself.
func ComputeCRC(bs []byte) uint16 {
	var c crc
	return c.reset().pushBytes(bs).value()
}
