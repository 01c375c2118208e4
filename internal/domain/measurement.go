// Package domain contains core business entities.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Quality represents the reliability of a measurement.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityBad       Quality = "bad"
	QualityUncertain Quality = "uncertain"
)

// ModbusDecode is the audit trail attached to Modbus measurements: the
// original register words and the parameters used to reassemble them.
type ModbusDecode struct {
	// RawRegistersHex holds the original 16-bit words as 0x-prefixed hex
	RawRegistersHex []string `json:"raw_registers_hex"`

	// BitsToRead is the configured decode width
	BitsToRead uint8 `json:"bits_to_read"`

	// Endianness is the byte-order transform that was applied
	Endianness Endianness `json:"endianness"`
}

// Measurement is one calibrated, unit-tagged, quality-annotated reading.
// Records are immutable once written; deletion happens only through the
// store's retention purge.
type Measurement struct {
	// MeasuredAt is the device-reported timestamp, shared by every record
	// of one payload
	MeasuredAt time.Time `json:"measured_at"`

	// IngestedAt is the server receipt time
	IngestedAt time.Time `json:"ingested_at"`

	DeviceID       string `json:"device_id"`
	OrganizationID string `json:"organization_id"`

	// Channel identity
	PortKey  string   `json:"port_key"`
	PortType PortType `json:"port_type"`

	// Modbus channel identity; empty for digital/analog records
	SlaveID  string `json:"slave_id,omitempty"`
	ReadID   string `json:"read_id,omitempty"`
	ReadName string `json:"read_name,omitempty"`
	ReadTag  string `json:"read_tag,omitempty"`

	// RawValue is the decoded, pre-calibration value. For Modbus records
	// this is the reassembled unsigned integer before any calibration;
	// raws above 2^53 lose low bits in the float64 conversion, and
	// Decode.RawRegistersHex keeps the exact register words.
	RawValue float64 `json:"raw_value"`

	// CalibratedValue is the final value after calibration
	CalibratedValue float64 `json:"calibrated_value"`

	Unit    string  `json:"unit,omitempty"`
	Quality Quality `json:"quality"`

	// Decode is present on Modbus records only
	Decode *ModbusDecode `json:"modbus_decode,omitempty"`
}

// ChannelRef returns the channel identity string used by views and logs.
func (m *Measurement) ChannelRef() string {
	if m.ReadID != "" {
		return m.PortKey + "/" + m.ReadID
	}
	return m.PortKey
}

// RegisterReading is one register group reported by a field device.
type RegisterReading struct {
	ReadID string   `json:"readId"`
	Value  []uint16 `json:"value"`
}

// SlaveGroup carries the register groups read from one Modbus slave.
type SlaveGroup struct {
	SlaveID   string            `json:"slaveId"`
	Registers []RegisterReading `json:"registers"`
}

// UnmarshalJSON accepts the slave ID as either a JSON string or number,
// since field firmware is inconsistent about it.
func (g *SlaveGroup) UnmarshalJSON(data []byte) error {
	var raw struct {
		SlaveID   json.Number       `json:"slaveId"`
		Registers []RegisterReading `json:"registers"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	g.SlaveID = raw.SlaveID.String()
	g.Registers = raw.Registers
	return nil
}

// ChannelReading is the union of the two inbound value shapes: a scalar
// for digital/analog ports, or an array of per-slave register groups for
// Modbus ports.
type ChannelReading struct {
	Scalar *float64
	Groups []SlaveGroup
}

// IsScalar reports whether the reading is a digital/analog scalar.
func (r *ChannelReading) IsScalar() bool {
	return r.Scalar != nil
}

// UnmarshalJSON decodes either shape. Booleans are accepted for digital
// channels and mapped to 0/1.
func (r *ChannelReading) UnmarshalJSON(data []byte) error {
	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		var groups []SlaveGroup
		if err := json.Unmarshal(data, &groups); err != nil {
			return err
		}
		r.Groups = groups
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		v := 0.0
		if b {
			v = 1.0
		}
		r.Scalar = &v
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("channel reading must be a scalar or a slave group array: %w", err)
		}
		r.Scalar = &v
		return nil
	}
}

// MarshalJSON re-emits the original shape.
func (r ChannelReading) MarshalJSON() ([]byte, error) {
	if r.Scalar != nil {
		return json.Marshal(*r.Scalar)
	}
	return json.Marshal(r.Groups)
}

// Payload is one inbound telemetry report from a field device.
type Payload struct {
	// DeviceIdentifier is the primary device ID or the external
	// configuration identifier
	DeviceIdentifier string `json:"deviceIdentifier"`

	// MeasuredAt defaults to server time when the device omits it
	MeasuredAt *time.Time `json:"measuredAt,omitempty"`

	// Values maps port keys to readings
	Values map[string]ChannelReading `json:"values"`
}

// Validate checks payload-level requirements.
func (p *Payload) Validate() error {
	if p.DeviceIdentifier == "" {
		return ErrDeviceIdentifierRequired
	}
	if len(p.Values) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
