// Package drive layers servo-drive operations on top of the servolink
// register client: enable/disable, parameter access with catalog
// bounds, EEPROM persistence and status sweeps.
package drive

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/servoctl/servolink"
	"github.com/servoctl/servolink/catalog"
)

const (
	// EnableRegister holds the servo-on flag; writing 1 enables the
	// drive, 0 disables it.
	EnableRegister = 0x0062
	// EEPROMSaveRegister triggers non-volatile persistence of the
	// parameter bank when EEPROMSaveValue is written to it.
	EEPROMSaveRegister = 0x1001
	EEPROMSaveValue    = 0x1234
	// DefaultEEPROMSettle is how long the drive needs after the save
	// command before it answers the bus again. The vendor recommends
	// more than five seconds.
	DefaultEEPROMSettle = 5500 * time.Millisecond
)

// Drive is one servo drive on the bus, addressed by its station.
type Drive struct {
	Station byte
	// EEPROMSettle is the blocking wait after SaveEEPROM's write.
	EEPROMSettle time.Duration

	client servolink.Client
	log    *logrus.Entry
}

// New creates a Drive that shares transporter with other drives on the
// same line. Each drive carries its own packager so concurrent drives
// never race on the station address.
func New(station byte, transporter servolink.Transporter) *Drive {
	packager := &servolink.RTUPackager{StationID: station}
	return NewWithClient(station, servolink.NewClient2(packager, transporter))
}

// NewWithClient creates a Drive on an existing register client.
func NewWithClient(station byte, client servolink.Client) *Drive {
	return &Drive{
		Station:      station,
		EEPROMSettle: DefaultEEPROMSettle,
		client:       client,
		log:          logrus.WithField("station", station),
	}
}

// Enable turns the servo on.
func (d *Drive) Enable() error {
	return d.setEnabled(1)
}

// Disable turns the servo off.
func (d *Drive) Disable() error {
	return d.setEnabled(0)
}

func (d *Drive) setEnabled(value uint16) error {
	if _, err := d.client.WriteSingleRegister(EnableRegister, value); err != nil {
		return fmt.Errorf("drive %d: set enable=%d: %w", d.Station, value, err)
	}
	d.log.WithField("enabled", value == 1).Info("servo enable changed")
	return nil
}

// SaveEEPROM persists the parameter bank to non-volatile memory and
// blocks for EEPROMSettle afterwards; the drive ignores the bus while
// the write is in progress.
func (d *Drive) SaveEEPROM() error {
	if _, err := d.client.WriteSingleRegister(EEPROMSaveRegister, EEPROMSaveValue); err != nil {
		return fmt.Errorf("drive %d: eeprom save: %w", d.Station, err)
	}
	d.log.WithField("settle", d.EEPROMSettle).Info("eeprom save issued, waiting for settle")
	time.Sleep(d.EEPROMSettle)
	return nil
}

// ReadParameter reads the current value of one catalog parameter.
func (d *Drive) ReadParameter(p catalog.Parameter) (uint16, error) {
	values, err := d.client.ReadHoldingRegisters(p.Address, 1)
	if err != nil {
		return 0, fmt.Errorf("drive %d: read %s: %w", d.Station, p.Name, err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("drive %d: read %s: empty response", d.Station, p.Name)
	}
	return values[0], nil
}

// WriteParameter writes value to a catalog parameter, rejecting values
// outside the catalog's declared bounds before touching the bus.
func (d *Drive) WriteParameter(p catalog.Parameter, value uint16) error {
	if min, max, ok := p.Bounds(); ok {
		if v := int64(value); v < min || v > max {
			return fmt.Errorf("drive %d: value %d for %s outside [%d, %d]", d.Station, value, p.Name, min, max)
		}
	}
	if _, err := d.client.WriteSingleRegister(p.Address, value); err != nil {
		return fmt.Errorf("drive %d: write %s=%d: %w", d.Station, p.Name, value, err)
	}
	d.log.WithFields(logrus.Fields{"parameter": p.Name, "value": value}).Debug("parameter written")
	return nil
}

// ReadAll sweeps every catalog parameter. Failed reads do not stop the
// sweep; their errors come back joined alongside the values that did
// arrive.
func (d *Drive) ReadAll(params []catalog.Parameter) (map[uint16]uint16, error) {
	values := make(map[uint16]uint16, len(params))
	var errs []error
	for _, p := range params {
		v, err := d.ReadParameter(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values[p.Address] = v
	}
	return values, errors.Join(errs...)
}

// ReadStatusBatch reads all status entries with the fewest possible
// bus transactions by coalescing contiguous addresses into range reads
// of at most servolink.MaxBatchSpan registers. functionCode selects
// 0x03 or 0x04 register banks. Like ReadAll it returns partial results
// with joined errors.
func (d *Drive) ReadStatusBatch(entries []catalog.Status, functionCode byte) (map[uint16]uint16, error) {
	values := make(map[uint16]uint16, len(entries))
	var errs []error
	for _, run := range servolink.CoalesceAddresses(catalog.Addresses(entries), servolink.MaxBatchSpan) {
		vals, err := d.client.ReadStatus(run.Start, run.Count, functionCode)
		if err != nil {
			errs = append(errs, fmt.Errorf("drive %d: status run %d+%d: %w", d.Station, run.Start, run.Count, err))
			continue
		}
		for i, v := range vals {
			values[run.Start+uint16(i)] = v
		}
	}
	return values, errors.Join(errs...)
}
