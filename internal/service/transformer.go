// Package service orchestrates the device-telemetry transformation pipeline.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/codec"
	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/metrics"
)

// Skip reasons reported for per-channel problems. These never abort the
// payload; a payload with twenty channels and one malformed read yields
// nineteen records and one logged skip.
const (
	SkipUnknownPort  = "unknown_port"
	SkipUnknownSlave = "unknown_slave"
	SkipUnknownRead  = "unknown_read"
	SkipDecodeError  = "decode_error"
	SkipNotScalar    = "not_scalar"
	SkipNotModbus    = "not_modbus"
)

// DeviceResolver resolves a device by its primary ID or its external
// configuration identifier. Implementations return a configuration
// snapshot that the caller may use without further locking.
type DeviceResolver interface {
	Resolve(ctx context.Context, identifier string) (*domain.Device, error)
}

// Skip records one channel reading dropped during transform.
type Skip struct {
	PortKey string `json:"port_key"`
	SlaveID string `json:"slave_id,omitempty"`
	ReadID  string `json:"read_id,omitempty"`
	Reason  string `json:"reason"`
}

// Result is the outcome of transforming one payload.
type Result struct {
	Device     *domain.Device
	MeasuredAt time.Time
	Records    []domain.Measurement
	Skips      []Skip
}

// Transformer converts raw device payloads into calibrated measurement
// records. It holds no mutable state across invocations: each call
// re-resolves the device configuration and rebuilds the read index, so
// concurrent payloads need no locking here.
type Transformer struct {
	resolver DeviceResolver
	logger   zerolog.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewTransformer creates a transformer backed by the given resolver.
func NewTransformer(resolver DeviceResolver, logger zerolog.Logger, m *metrics.Registry) *Transformer {
	return &Transformer{
		resolver: resolver,
		logger:   logger.With().Str("component", "transformer").Logger(),
		metrics:  m,
		now:      time.Now,
	}
}

// Transform resolves the payload's device and converts every channel
// reading into a measurement record. Only payload-level problems are
// fatal: an unresolvable device or a device without an owning
// organization. Per-channel problems are skipped and reported in the
// result. The transformer does not persist anything.
func (t *Transformer) Transform(ctx context.Context, payload *domain.Payload) (*Result, error) {
	started := t.now()

	if err := payload.Validate(); err != nil {
		t.metrics.RecordPayload("rejected", 0, t.now().Sub(started).Seconds())
		return nil, err
	}

	device, err := t.resolver.Resolve(ctx, payload.DeviceIdentifier)
	if err != nil {
		t.metrics.RecordPayload("rejected", 0, t.now().Sub(started).Seconds())
		return nil, fmt.Errorf("resolve device %q: %w", payload.DeviceIdentifier, err)
	}
	if device.OrganizationID == "" {
		t.metrics.RecordPayload("rejected", 0, t.now().Sub(started).Seconds())
		return nil, fmt.Errorf("device %q: %w", device.ID, domain.ErrOrganizationMissing)
	}

	logger := t.logger.With().Str("device_id", device.ID).Logger()

	// One timestamp per payload; per-channel timestamps are not supported.
	measuredAt := started
	if payload.MeasuredAt != nil {
		measuredAt = *payload.MeasuredAt
	}
	ingestedAt := started

	readIndex := BuildReadIndex(device)

	result := &Result{
		Device:     device,
		MeasuredAt: measuredAt,
		Records:    make([]domain.Measurement, 0, len(payload.Values)),
	}

	// Map iteration order is random; sort keys so record order is stable.
	portKeys := make([]string, 0, len(payload.Values))
	for key := range payload.Values {
		portKeys = append(portKeys, key)
	}
	sort.Strings(portKeys)

	for _, portKey := range portKeys {
		reading := payload.Values[portKey]

		port, ok := device.Port(portKey)
		if !ok {
			t.skip(result, logger, Skip{PortKey: portKey, Reason: SkipUnknownPort})
			continue
		}

		base := domain.Measurement{
			MeasuredAt:     measuredAt,
			IngestedAt:     ingestedAt,
			DeviceID:       device.ID,
			OrganizationID: device.OrganizationID,
			PortKey:        port.Key,
			PortType:       port.Type,
			Unit:           port.Unit,
			Quality:        domain.QualityGood,
		}

		switch port.Type {
		case domain.PortTypeDigital:
			if !reading.IsScalar() {
				t.skip(result, logger, Skip{PortKey: portKey, Reason: SkipNotScalar})
				continue
			}
			// Digital values are never scaled.
			rec := base
			rec.RawValue = *reading.Scalar
			rec.CalibratedValue = *reading.Scalar
			result.Records = append(result.Records, rec)

		case domain.PortTypeAnalog:
			if !reading.IsScalar() {
				t.skip(result, logger, Skip{PortKey: portKey, Reason: SkipNotScalar})
				continue
			}
			rec := base
			rec.RawValue = *reading.Scalar
			rec.CalibratedValue = port.Calibration.Normalized().Apply(*reading.Scalar)
			result.Records = append(result.Records, rec)

		case domain.PortTypeModbus:
			if reading.IsScalar() {
				t.skip(result, logger, Skip{PortKey: portKey, Reason: SkipNotModbus})
				continue
			}
			t.transformModbus(logger, port, reading.Groups, readIndex, base, result)
		}
	}

	t.metrics.RecordPayload("accepted", len(result.Records), t.now().Sub(started).Seconds())
	logger.Debug().
		Int("records", len(result.Records)).
		Int("skipped", len(result.Skips)).
		Time("measured_at", measuredAt).
		Msg("Payload transformed")

	return result, nil
}

// transformModbus decodes each register group of each known slave.
// Read-level calibration is always applied before port-level
// calibration; the port layer is an independent scale/offset on top.
func (t *Transformer) transformModbus(logger zerolog.Logger, port *domain.Port, groups []domain.SlaveGroup, readIndex ReadIndex, base domain.Measurement, result *Result) {
	portCal := port.Calibration.Normalized()

	for _, group := range groups {
		if _, ok := port.Slave(group.SlaveID); !ok {
			t.skip(result, logger, Skip{PortKey: port.Key, SlaveID: group.SlaveID, Reason: SkipUnknownSlave})
			continue
		}

		for _, reg := range group.Registers {
			cfg, ok := readIndex.Lookup(reg.ReadID)
			if !ok {
				t.skip(result, logger, Skip{PortKey: port.Key, SlaveID: group.SlaveID, ReadID: reg.ReadID, Reason: SkipUnknownRead})
				continue
			}

			decoded, err := codec.Decode(reg.Value, cfg.BitsToRead, cfg.Endianness)
			if err != nil {
				t.metrics.RecordDecodeError()
				logger.Warn().
					Err(err).
					Str("port_key", port.Key).
					Str("read_id", reg.ReadID).
					Uint8("bits_to_read", cfg.BitsToRead).
					Str("endianness", string(cfg.Endianness)).
					Msg("Register decode failed, channel skipped")
				result.Skips = append(result.Skips, Skip{PortKey: port.Key, SlaveID: group.SlaveID, ReadID: reg.ReadID, Reason: SkipDecodeError})
				t.metrics.RecordSkip(SkipDecodeError)
				continue
			}

			readCalibrated := float64(decoded)*cfg.Scaling + cfg.Offset

			rec := base
			rec.SlaveID = group.SlaveID
			rec.ReadID = cfg.ReadID
			rec.ReadName = cfg.Name
			rec.ReadTag = cfg.Tag
			rec.RawValue = float64(decoded)
			rec.CalibratedValue = portCal.Apply(readCalibrated)
			if cfg.Unit != "" {
				rec.Unit = cfg.Unit
			}
			rec.Decode = &domain.ModbusDecode{
				RawRegistersHex: registersToHex(reg.Value),
				BitsToRead:      cfg.BitsToRead,
				Endianness:      cfg.Endianness,
			}
			result.Records = append(result.Records, rec)
		}
	}
}

func (t *Transformer) skip(result *Result, logger zerolog.Logger, s Skip) {
	result.Skips = append(result.Skips, s)
	t.metrics.RecordSkip(s.Reason)
	logger.Warn().
		Str("port_key", s.PortKey).
		Str("slave_id", s.SlaveID).
		Str("read_id", s.ReadID).
		Str("reason", s.Reason).
		Msg("Channel reading skipped")
}

func registersToHex(words []uint16) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fmt.Sprintf("0x%04X", w)
	}
	return out
}
