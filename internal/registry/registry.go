// Package registry manages the device catalog backed by a YAML file.
// It resolves payload device identifiers to configurations and exposes
// the catalog mutations the management API needs.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
)

// catalogFile is the top-level YAML structure of the device catalog.
type catalogFile struct {
	Version string           `yaml:"version"`
	Devices []*domain.Device `yaml:"devices"`
}

// PortUpdate carries the mutable attributes of a port. Port keys and
// types are fixed at creation since stored measurements reference them.
type PortUpdate struct {
	Unit        *string             `json:"unit,omitempty" yaml:"unit,omitempty"`
	Calibration *domain.Calibration `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	Thresholds  *domain.Thresholds  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Status      *domain.PortStatus  `json:"status,omitempty" yaml:"status,omitempty"`
	Slaves      []domain.Slave      `json:"slaves,omitempty" yaml:"slaves,omitempty"`
}

// Registry is an in-memory device catalog with YAML persistence.
type Registry struct {
	mu      sync.RWMutex
	path    string
	devices map[string]*domain.Device
	logger  zerolog.Logger
}

// Load reads the catalog file and builds the registry. A missing file
// is not an error; the registry starts empty and creates the file on
// the first save.
func Load(path string, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		path:    path,
		devices: make(map[string]*domain.Device),
		logger:  logger.With().Str("component", "device-registry").Logger(),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.logger.Warn().Str("path", path).Msg("Device catalog not found, starting empty")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse device catalog: %w", err)
	}

	for _, d := range file.Devices {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("device %q: %w", d.ID, err)
		}
		if _, exists := r.devices[d.ID]; exists {
			return nil, fmt.Errorf("device %q: %w", d.ID, domain.ErrDeviceExists)
		}
		r.devices[d.ID] = d
	}

	r.logger.Info().Int("devices", len(r.devices)).Str("path", path).Msg("Device catalog loaded")
	return r, nil
}

// Save writes the catalog back to its YAML file.
func (r *Registry) Save() error {
	r.mu.RLock()
	file := catalogFile{Version: "1.0", Devices: r.snapshot()}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal device catalog: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write device catalog: %w", err)
	}
	return nil
}

// Resolve looks up a device by internal ID or external ID. Callers get
// a deep copy so concurrent payload processing never observes a
// half-applied catalog mutation.
func (r *Registry) Resolve(ctx context.Context, identifier string) (*domain.Device, error) {
	if identifier == "" {
		return nil, domain.ErrDeviceIdentifierRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.devices[identifier]; ok {
		return d.Clone(), nil
	}
	for _, d := range r.devices {
		if d.ExternalID != "" && d.ExternalID == identifier {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrDeviceNotFound, identifier)
}

// Get returns a copy of the device with the given ID.
func (r *Registry) Get(id string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrDeviceNotFound, id)
	}
	return d.Clone(), nil
}

// List returns copies of all devices, ordered by ID.
func (r *Registry) List() []*domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// snapshot returns deep copies sorted by ID. Caller must hold the lock.
func (r *Registry) snapshot() []*domain.Device {
	out := make([]*domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add validates and registers a new device.
func (r *Registry) Add(device *domain.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.ID]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDeviceExists, device.ID)
	}
	for _, d := range r.devices {
		if device.ExternalID != "" && d.ExternalID == device.ExternalID {
			return fmt.Errorf("%w: external ID %q", domain.ErrDeviceExists, device.ExternalID)
		}
	}

	now := time.Now().UTC()
	stored := device.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.devices[device.ID] = stored

	r.logger.Info().Str("device_id", device.ID).Str("name", device.Name).Msg("Device registered")
	return nil
}

// Delete removes a device from the catalog. Stored measurements are
// untouched.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	r.logger.Info().Str("device_id", id).Msg("Device removed")
	return nil
}

// UpdatePort applies the mutable attributes of a port. The port key
// itself cannot change. The update is staged on a copy and committed
// only after validation, so a rejected update never leaves partial
// state in the catalog.
func (r *Registry) UpdatePort(deviceID, portKey string, update PortUpdate) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrDeviceNotFound, deviceID)
	}

	candidate := d.Clone()
	var port *domain.Port
	for i := range candidate.Ports {
		if candidate.Ports[i].Key == portKey {
			port = &candidate.Ports[i]
			break
		}
	}
	if port == nil {
		return nil, fmt.Errorf("%w: %q on device %q", domain.ErrPortNotFound, portKey, deviceID)
	}

	if update.Unit != nil {
		port.Unit = *update.Unit
	}
	if update.Calibration != nil {
		port.Calibration = *update.Calibration
	}
	if update.Thresholds != nil {
		port.Thresholds = update.Thresholds
	}
	if update.Status != nil {
		port.Status = *update.Status
	}
	if update.Slaves != nil {
		if port.Type != domain.PortTypeModbus {
			return nil, fmt.Errorf("%w: port %q", domain.ErrSlavesOnNonModbusPort, portKey)
		}
		port.Slaves = update.Slaves
	}

	if err := port.Validate(); err != nil {
		return nil, err
	}
	candidate.UpdatedAt = time.Now().UTC()
	r.devices[deviceID] = candidate

	r.logger.Info().Str("device_id", deviceID).Str("port_key", portKey).Msg("Port updated")
	return candidate.Clone(), nil
}

// HealthCheck verifies the catalog file is still reachable. An empty
// registry without a backing file is healthy; it simply has nothing
// configured yet.
func (r *Registry) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("device catalog inaccessible: %w", err)
	}
	return nil
}
