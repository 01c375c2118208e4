package service

import (
	"context"
	"sync"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
)

// MockDeviceResolver is a configurable DeviceResolver for tests.
type MockDeviceResolver struct {
	mu sync.Mutex

	// ResolveFunc overrides the default behavior when set
	ResolveFunc func(ctx context.Context, identifier string) (*domain.Device, error)

	// Devices resolved by ID or external ID when ResolveFunc is nil
	Devices []*domain.Device

	// ResolveCalls records every identifier passed to Resolve
	ResolveCalls []string
}

// Resolve implements DeviceResolver.
func (m *MockDeviceResolver) Resolve(ctx context.Context, identifier string) (*domain.Device, error) {
	m.mu.Lock()
	m.ResolveCalls = append(m.ResolveCalls, identifier)
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, identifier)
	}
	for _, d := range m.Devices {
		if d.ID == identifier || (d.ExternalID != "" && d.ExternalID == identifier) {
			return d.Clone(), nil
		}
	}
	return nil, domain.ErrDeviceNotFound
}
