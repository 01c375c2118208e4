// Package service orchestrates the device-telemetry transformation pipeline.
package service

import "github.com/siddharth-mourya/powerlytic-be/internal/domain"

// ReadConfig is a read's decoding and calibration parameters, flattened
// out of the port/slave/read configuration tree.
type ReadConfig struct {
	ReadID       string
	SlaveID      string
	StartAddress uint16
	BitsToRead   uint8
	Scaling      float64
	Offset       float64
	Endianness   domain.Endianness
	Name         string
	Tag          string
	Unit         string
}

// ReadIndex maps read IDs to their flattened configuration. It is built
// fresh for every payload from the device's current configuration;
// caching it across requests would serve stale calibration after a
// configuration update.
type ReadIndex map[string]ReadConfig

// BuildReadIndex flattens a device's Modbus configuration tree.
// Construction is linear in the total number of reads; lookups are O(1).
func BuildReadIndex(device *domain.Device) ReadIndex {
	idx := make(ReadIndex)
	for i := range device.Ports {
		port := &device.Ports[i]
		if port.Type != domain.PortTypeModbus {
			continue
		}
		for j := range port.Slaves {
			slave := &port.Slaves[j]
			for k := range slave.Reads {
				read := &slave.Reads[k]
				cal := read.Calibration.Normalized()
				endianness := read.Endianness
				if endianness == "" {
					endianness = domain.EndiannessNone
				}
				idx[read.ID] = ReadConfig{
					ReadID:       read.ID,
					SlaveID:      slave.ID,
					StartAddress: read.StartAddress,
					BitsToRead:   read.BitsToRead,
					Scaling:      cal.Scaling,
					Offset:       cal.Offset,
					Endianness:   endianness,
					Name:         read.Name,
					Tag:          read.Tag,
					Unit:         read.Unit,
				}
			}
		}
	}
	return idx
}

// Lookup returns the configuration for a read ID.
func (idx ReadIndex) Lookup(readID string) (ReadConfig, bool) {
	cfg, ok := idx[readID]
	return cfg, ok
}
