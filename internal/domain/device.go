// Package domain contains the core business entities and interfaces.
// These are transport-agnostic and represent the core concepts of the system.
package domain

import (
	"fmt"
	"time"
)

// PortType classifies a device channel.
type PortType string

const (
	PortTypeDigital PortType = "DIGITAL"
	PortTypeAnalog  PortType = "ANALOG"
	PortTypeModbus  PortType = "MODBUS"
)

// PortStatus represents the configured operational state of a port.
type PortStatus string

const (
	PortStatusActive   PortStatus = "active"
	PortStatusInactive PortStatus = "inactive"
)

// Endianness represents the byte/word ordering used to reassemble
// multi-register Modbus values.
type Endianness string

const (
	EndiannessABCD Endianness = "ABCD" // big-endian words, big-endian bytes
	EndiannessCDAB Endianness = "CDAB" // word swap
	EndiannessBADC Endianness = "BADC" // byte swap within each word
	EndiannessDCBA Endianness = "DCBA" // full byte reversal
	EndiannessNone Endianness = "NONE" // treated as ABCD
)

// RegisterType represents the Modbus register class addressed by a read.
type RegisterType string

const (
	RegisterTypeCoil            RegisterType = "coil"             // function code 1
	RegisterTypeDiscreteInput   RegisterType = "discrete_input"   // function code 2
	RegisterTypeHoldingRegister RegisterType = "holding_register" // function code 3
	RegisterTypeInputRegister   RegisterType = "input_register"   // function code 4
)

// RegisterTypeFromFunctionCode maps a Modbus read function code to its
// register class. Unknown codes map to the holding register class, the
// most common configuration.
func RegisterTypeFromFunctionCode(code uint8) RegisterType {
	switch code {
	case 1:
		return RegisterTypeCoil
	case 2:
		return RegisterTypeDiscreteInput
	case 4:
		return RegisterTypeInputRegister
	default:
		return RegisterTypeHoldingRegister
	}
}

// Calibration is the linear transform converting a raw reading into
// engineering units: value*Scaling + Offset.
type Calibration struct {
	Scaling float64 `json:"scaling" yaml:"scaling"`
	Offset  float64 `json:"offset" yaml:"offset"`
}

// Normalized returns the calibration with the identity default applied
// when scaling was left unset.
func (c Calibration) Normalized() Calibration {
	if c.Scaling == 0 {
		c.Scaling = 1.0
	}
	return c
}

// Apply applies the calibration to a raw value.
func (c Calibration) Apply(v float64) float64 {
	return v*c.Scaling + c.Offset
}

// Thresholds holds optional alarm limits for a port.
type Thresholds struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Breached reports whether a calibrated value falls outside the limits.
func (t *Thresholds) Breached(v float64) bool {
	if t == nil {
		return false
	}
	if t.Min != nil && v < *t.Min {
		return true
	}
	if t.Max != nil && v > *t.Max {
		return true
	}
	return false
}

// Read is one configured register group decoded together into one value.
type Read struct {
	// ID is the globally unique identifier for this read
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name for the decoded value
	Name string `json:"name" yaml:"name"`

	// Tag is an optional free-form classifier
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Unit is the engineering unit of the decoded value
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// FunctionCode is the Modbus read function code (1-4)
	FunctionCode uint8 `json:"function_code" yaml:"function_code"`

	// StartAddress is the first register address of the group
	StartAddress uint16 `json:"start_address" yaml:"start_address"`

	// BitsToRead is the decoded value width: 8, 16, 32 or 64
	BitsToRead uint8 `json:"bits_to_read" yaml:"bits_to_read"`

	// Endianness selects the byte-order transform for reassembly
	Endianness Endianness `json:"endianness,omitempty" yaml:"endianness,omitempty"`

	// Calibration is applied to the decoded value before port calibration
	Calibration Calibration `json:"calibration" yaml:"calibration"`
}

// RegisterType returns the register class derived from the function code.
func (r *Read) RegisterType() RegisterType {
	return RegisterTypeFromFunctionCode(r.FunctionCode)
}

// WordCount returns the number of 16-bit register words the read occupies.
func (r *Read) WordCount() int {
	return (int(r.BitsToRead) + 15) / 16
}

// Validate checks the read configuration.
func (r *Read) Validate() error {
	if r.ID == "" {
		return ErrReadIDRequired
	}
	switch r.BitsToRead {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidBitWidth, r.BitsToRead)
	}
	switch r.Endianness {
	case EndiannessABCD, EndiannessCDAB, EndiannessBADC, EndiannessDCBA, EndiannessNone, "":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEndianness, r.Endianness)
	}
	return nil
}

// Slave identifies one addressable device on a Modbus serial bus.
type Slave struct {
	// ID is the slave identifier, unique within its port
	ID string `json:"id" yaml:"id"`

	// Serial-line parameters
	BaudRate int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// Polling policy, applied by the field collector rather than this service
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount   int           `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`

	// Reads is the ordered set of register groups polled from this slave
	Reads []Read `json:"reads" yaml:"reads"`
}

// Port represents one physical channel of a device. The key is fixed at
// device creation from the device-model template; only the mutable
// attributes (unit, calibration, thresholds, slave sub-tree) change later.
type Port struct {
	// Key is the immutable channel key, unique within the device (e.g. AI_1)
	Key string `json:"key" yaml:"key"`

	// Type classifies the channel
	Type PortType `json:"type" yaml:"type"`

	// Unit is the engineering unit reported for scalar channels
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Calibration is the port-level scale/offset layer
	Calibration Calibration `json:"calibration" yaml:"calibration"`

	// Status marks the port active or inactive
	Status PortStatus `json:"status,omitempty" yaml:"status,omitempty"`

	// Thresholds holds optional alarm limits
	Thresholds *Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Slaves is the Modbus sub-tree; empty for digital/analog ports
	Slaves []Slave `json:"slaves,omitempty" yaml:"slaves,omitempty"`
}

// Slave returns the configured slave with the given ID.
func (p *Port) Slave(id string) (*Slave, bool) {
	for i := range p.Slaves {
		if p.Slaves[i].ID == id {
			return &p.Slaves[i], true
		}
	}
	return nil, false
}

// Validate checks the port configuration.
func (p *Port) Validate() error {
	if p.Key == "" {
		return ErrPortKeyRequired
	}
	switch p.Type {
	case PortTypeDigital, PortTypeAnalog, PortTypeModbus:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPortType, p.Type)
	}
	if p.Type != PortTypeModbus && len(p.Slaves) > 0 {
		return fmt.Errorf("port %q: %w", p.Key, ErrSlavesOnNonModbusPort)
	}
	for i := range p.Slaves {
		s := &p.Slaves[i]
		if s.ID == "" {
			return fmt.Errorf("port %q: %w", p.Key, ErrSlaveIDRequired)
		}
		for j := range s.Reads {
			if err := s.Reads[j].Validate(); err != nil {
				return fmt.Errorf("port %q slave %q: %w", p.Key, s.ID, err)
			}
		}
	}
	return nil
}

// Device represents a field device with its fixed set of ports.
type Device struct {
	// ID is the primary identifier for this device
	ID string `json:"id" yaml:"id"`

	// ExternalID is the externally-issued configuration identifier.
	// Field devices report against either identifier.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`

	// Name is a human-readable name
	Name string `json:"name" yaml:"name"`

	// Model names the device-model template the port set came from
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// OrganizationID is the owning organization; every stored measurement
	// is attributed to it
	OrganizationID string `json:"organization_id" yaml:"organization_id"`

	// Ports is the channel set, fixed at creation time
	Ports []Port `json:"ports" yaml:"ports"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Port returns the port with the given key.
func (d *Device) Port(key string) (*Port, bool) {
	for i := range d.Ports {
		if d.Ports[i].Key == key {
			return &d.Ports[i], true
		}
	}
	return nil, false
}

// Validate checks the device configuration.
func (d *Device) Validate() error {
	if d.ID == "" {
		return ErrDeviceIDRequired
	}
	if d.Name == "" {
		return ErrDeviceNameRequired
	}
	seen := make(map[string]bool, len(d.Ports))
	for i := range d.Ports {
		p := &d.Ports[i]
		if seen[p.Key] {
			return fmt.Errorf("device %q: %w: %q", d.ID, ErrDuplicatePortKey, p.Key)
		}
		seen[p.Key] = true
		if err := p.Validate(); err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the device. Configuration handed to the
// transformer must not alias the registry's copy, which concurrent
// port updates may mutate.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	out := *d
	out.Ports = make([]Port, len(d.Ports))
	for i := range d.Ports {
		p := d.Ports[i]
		if p.Thresholds != nil {
			t := *p.Thresholds
			if t.Min != nil {
				v := *t.Min
				t.Min = &v
			}
			if t.Max != nil {
				v := *t.Max
				t.Max = &v
			}
			p.Thresholds = &t
		}
		if p.Slaves != nil {
			slaves := make([]Slave, len(p.Slaves))
			for j := range p.Slaves {
				s := p.Slaves[j]
				s.Reads = append([]Read(nil), p.Slaves[j].Reads...)
				slaves[j] = s
			}
			p.Slaves = slaves
		}
		out.Ports[i] = p
	}
	return &out
}
