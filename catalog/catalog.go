// Package catalog loads the XML parameter and status definitions that
// describe a drive's register map. The transport core consumes only the
// addresses and counts derived from these records.
package catalog

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Parameter describes one writable or readable parameter register.
type Parameter struct {
	Address     uint16
	Name        string
	Description string
	Default     string
	Min         string
	Max         string
	Type        string
	Access      string
}

// Bounds returns the numeric limits of the parameter. ok is false when
// either limit is absent or non-numeric; such parameters are written
// unchecked.
func (p Parameter) Bounds() (min, max int64, ok bool) {
	min, err := strconv.ParseInt(p.Min, 0, 64)
	if err != nil {
		return 0, 0, false
	}
	max, err = strconv.ParseInt(p.Max, 0, 64)
	if err != nil {
		return 0, 0, false
	}
	return min, max, true
}

// Status describes one read-only status register.
type Status struct {
	Address     uint16
	Name        string
	Description string
	Type        string
	Units       string
}

type parameterRecord struct {
	ID          string `xml:"id"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Min         string `xml:"valueMin"`
	Max         string `xml:"valueMax"`
	Default     string `xml:"defaultValue"`
	Type        string `xml:"type"`
	Access      string `xml:"accessType"`
}

type parameterDocument struct {
	Records []parameterRecord `xml:"ServoParameterTable"`
}

type statusRecord struct {
	ID          string `xml:"id"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Type        string `xml:"type"`
	Units       string `xml:"units"`
}

type statusDocument struct {
	Records []statusRecord `xml:"ServoStatusTable"`
}

// LoadParameters parses a ServoParameterTable file. Records with a
// missing or non-numeric id are skipped; vendors ship catalogs with
// placeholder rows.
func LoadParameters(path string) ([]Parameter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc parameterDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	params := make([]Parameter, 0, len(doc.Records))
	for _, rec := range doc.Records {
		addr, err := strconv.ParseUint(rec.ID, 0, 16)
		if err != nil {
			continue
		}
		params = append(params, Parameter{
			Address:     uint16(addr),
			Name:        rec.Name,
			Description: rec.Description,
			Default:     rec.Default,
			Min:         rec.Min,
			Max:         rec.Max,
			Type:        rec.Type,
			Access:      rec.Access,
		})
	}
	return params, nil
}

// LoadStatus parses a ServoStatusTable file and returns the entries
// sorted by address, the order the batch reader coalesces them in.
func LoadStatus(path string) ([]Status, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc statusDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	entries := make([]Status, 0, len(doc.Records))
	for _, rec := range doc.Records {
		addr, err := strconv.ParseUint(rec.ID, 0, 16)
		if err != nil {
			continue
		}
		entries = append(entries, Status{
			Address:     uint16(addr),
			Name:        rec.Name,
			Description: rec.Description,
			Type:        rec.Type,
			Units:       rec.Units,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	return entries, nil
}

// Addresses extracts the register addresses of status entries, the
// input to servolink.CoalesceAddresses.
func Addresses(entries []Status) []uint16 {
	addrs := make([]uint16, len(entries))
	for i, e := range entries {
		addrs[i] = e.Address
	}
	return addrs
}
