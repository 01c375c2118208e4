// Package domain contains core business entities.
package domain

import "errors"

// Payload-level errors. These abort the whole ingest call.
var (
	ErrDeviceNotFound           = errors.New("device not found")
	ErrOrganizationMissing      = errors.New("device has no organization assigned")
	ErrEmptyPayload             = errors.New("payload contains no values")
	ErrDeviceIdentifierRequired = errors.New("device identifier is required")
)

// Decode errors. Per-channel recoverable during ingest.
var (
	ErrInsufficientRegisters = errors.New("insufficient register words for declared bit width")
	ErrInvalidBitWidth       = errors.New("bit width must be 8, 16, 32 or 64")
	ErrInvalidEndianness     = errors.New("unknown endianness")
)

// Configuration errors.
var (
	ErrDeviceIDRequired      = errors.New("device ID is required")
	ErrDeviceNameRequired    = errors.New("device name is required")
	ErrPortKeyRequired       = errors.New("port key is required")
	ErrInvalidPortType       = errors.New("invalid port type")
	ErrDuplicatePortKey      = errors.New("duplicate port key")
	ErrSlaveIDRequired       = errors.New("slave ID is required")
	ErrSlavesOnNonModbusPort = errors.New("slaves configured on a non-Modbus port")
	ErrReadIDRequired        = errors.New("read ID is required")
)

// Registry errors.
var (
	ErrDeviceExists = errors.New("device already exists")
	ErrPortNotFound = errors.New("port not found")
)

// Store errors.
var (
	ErrStoreUnavailable = errors.New("measurement store unavailable")
)
