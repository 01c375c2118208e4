// Package views builds the read-side projections served by the API.
// Each view is a thin shaping layer over the measurement store; no view
// ever rewrites stored records.
package views

import (
	"context"
	"fmt"
	"time"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/store"
)

// MeasurementSource is the store surface the view builders consume.
type MeasurementSource interface {
	Latest(ctx context.Context, deviceID string) ([]domain.Measurement, error)
	Range(ctx context.Context, q store.RangeQuery) ([]domain.Measurement, error)
	Aggregate(ctx context.Context, q store.AggregateQuery) (store.Aggregate, error)
}

// DeviceSource resolves device configuration for threshold evaluation.
type DeviceSource interface {
	Get(id string) (*domain.Device, error)
}

// ChannelValue is the latest reading of one channel.
type ChannelValue struct {
	ReadID     string    `json:"readId,omitempty"`
	ReadName   string    `json:"readName,omitempty"`
	ReadTag    string    `json:"readTag,omitempty"`
	SlaveID    string    `json:"slaveId,omitempty"`
	Value      float64   `json:"value"`
	RawValue   float64   `json:"rawValue"`
	Unit       string    `json:"unit,omitempty"`
	Quality    string    `json:"quality"`
	MeasuredAt time.Time `json:"measuredAt"`
}

// PortSnapshot groups the latest channel values of one port.
type PortSnapshot struct {
	PortKey  string         `json:"portKey"`
	PortType string         `json:"portType"`
	Channels []ChannelValue `json:"channels"`
}

// Snapshot is the per-port latest-value tree of a device.
type Snapshot struct {
	DeviceID    string         `json:"deviceId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Ports       []PortSnapshot `json:"ports"`
}

// TableRow is one flat row of the tabular view.
type TableRow struct {
	PortKey    string    `json:"portKey"`
	ReadID     string    `json:"readId,omitempty"`
	ReadName   string    `json:"readName,omitempty"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Quality    string    `json:"quality"`
	MeasuredAt time.Time `json:"measuredAt"`
}

// SeriesPoint is one {t, v} time-series sample.
type SeriesPoint struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// Series is the ordered samples of one channel inside a window.
type Series struct {
	DeviceID  string           `json:"deviceId"`
	PortKey   string           `json:"portKey,omitempty"`
	ReadID    string           `json:"readId,omitempty"`
	Unit      string           `json:"unit,omitempty"`
	Points    []SeriesPoint    `json:"points"`
	Aggregate *store.Aggregate `json:"aggregate,omitempty"`
}

// ChannelStatus summarizes one channel for the status view.
type ChannelStatus struct {
	PortKey      string    `json:"portKey"`
	ReadID       string    `json:"readId,omitempty"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	MeasuredAt   time.Time `json:"measuredAt"`
	Stale        bool      `json:"stale"`
	Breached     bool      `json:"breached"`
	AlarmMessage string    `json:"alarmMessage,omitempty"`
}

// StatusSummary is the per-channel health view of a device.
type StatusSummary struct {
	DeviceID    string          `json:"deviceId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Channels    []ChannelStatus `json:"channels"`
	Breaches    int             `json:"breaches"`
	StaleCount  int             `json:"staleCount"`
}

// Builder constructs the read-side views.
type Builder struct {
	source  MeasurementSource
	devices DeviceSource

	// staleAfter marks a channel stale when its latest record is older
	staleAfter time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewBuilder creates a view builder. staleAfter <= 0 disables staleness
// flagging.
func NewBuilder(source MeasurementSource, devices DeviceSource, staleAfter time.Duration) *Builder {
	return &Builder{
		source:     source,
		devices:    devices,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Snapshot builds the per-port latest-value tree for a device.
func (b *Builder) Snapshot(ctx context.Context, deviceID string) (*Snapshot, error) {
	latest, err := b.source.Latest(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	snap := &Snapshot{DeviceID: deviceID, GeneratedAt: b.now().UTC()}
	var current *PortSnapshot
	for _, m := range latest {
		if current == nil || current.PortKey != m.PortKey {
			snap.Ports = append(snap.Ports, PortSnapshot{
				PortKey:  m.PortKey,
				PortType: string(m.PortType),
			})
			current = &snap.Ports[len(snap.Ports)-1]
		}
		current.Channels = append(current.Channels, ChannelValue{
			ReadID:     m.ReadID,
			ReadName:   m.ReadName,
			ReadTag:    m.ReadTag,
			SlaveID:    m.SlaveID,
			Value:      m.CalibratedValue,
			RawValue:   m.RawValue,
			Unit:       m.Unit,
			Quality:    string(m.Quality),
			MeasuredAt: m.MeasuredAt,
		})
	}
	return snap, nil
}

// Table builds the flat latest-values table for a device.
func (b *Builder) Table(ctx context.Context, deviceID string) ([]TableRow, error) {
	latest, err := b.source.Latest(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("build table: %w", err)
	}

	rows := make([]TableRow, 0, len(latest))
	for _, m := range latest {
		rows = append(rows, TableRow{
			PortKey:    m.PortKey,
			ReadID:     m.ReadID,
			ReadName:   m.ReadName,
			Value:      m.CalibratedValue,
			Unit:       m.Unit,
			Quality:    string(m.Quality),
			MeasuredAt: m.MeasuredAt,
		})
	}
	return rows, nil
}

// SeriesQuery selects a channel window for the time-series view.
type SeriesQuery struct {
	DeviceID      string
	PortKey       string
	ReadID        string
	Start         time.Time
	End           time.Time
	Limit         int
	WithAggregate bool
}

// Series builds the ordered {t, v} samples for one channel window.
// Points come back oldest-first, the order charting clients consume.
func (b *Builder) Series(ctx context.Context, q SeriesQuery) (*Series, error) {
	records, err := b.source.Range(ctx, store.RangeQuery{
		DeviceID:  q.DeviceID,
		Start:     q.Start,
		End:       q.End,
		PortKey:   q.PortKey,
		ReadID:    q.ReadID,
		Limit:     q.Limit,
		Ascending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build series: %w", err)
	}

	series := &Series{
		DeviceID: q.DeviceID,
		PortKey:  q.PortKey,
		ReadID:   q.ReadID,
		Points:   make([]SeriesPoint, 0, len(records)),
	}
	for _, m := range records {
		if series.Unit == "" {
			series.Unit = m.Unit
		}
		series.Points = append(series.Points, SeriesPoint{T: m.MeasuredAt, V: m.CalibratedValue})
	}

	if q.WithAggregate {
		agg, err := b.source.Aggregate(ctx, store.AggregateQuery{
			DeviceID: q.DeviceID,
			PortKey:  q.PortKey,
			ReadID:   q.ReadID,
			Start:    q.Start,
			End:      q.End,
		})
		if err != nil {
			return nil, fmt.Errorf("build series aggregate: %w", err)
		}
		series.Aggregate = &agg
	}
	return series, nil
}

// Status builds the per-channel health summary: latest value, threshold
// breach against the port configuration, and staleness.
func (b *Builder) Status(ctx context.Context, deviceID string) (*StatusSummary, error) {
	latest, err := b.source.Latest(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("build status: %w", err)
	}
	device, err := b.devices.Get(deviceID)
	if err != nil {
		return nil, fmt.Errorf("build status: %w", err)
	}

	now := b.now().UTC()
	summary := &StatusSummary{DeviceID: deviceID, GeneratedAt: now}
	for _, m := range latest {
		cs := ChannelStatus{
			PortKey:    m.PortKey,
			ReadID:     m.ReadID,
			Value:      m.CalibratedValue,
			Unit:       m.Unit,
			MeasuredAt: m.MeasuredAt,
		}
		if b.staleAfter > 0 && now.Sub(m.MeasuredAt) > b.staleAfter {
			cs.Stale = true
			summary.StaleCount++
		}
		if port, ok := device.Port(m.PortKey); ok && port.Thresholds.Breached(m.CalibratedValue) {
			cs.Breached = true
			cs.AlarmMessage = port.Thresholds.Message
			summary.Breaches++
		}
		summary.Channels = append(summary.Channels, cs)
	}
	return summary, nil
}
