// Package store persists measurement records as an append-only
// time-series collection and answers the read-side queries the view
// builders need.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
	"github.com/siddharth-mourya/powerlytic-be/internal/metrics"
)

// measurementRow is the persisted shape of a measurement record.
type measurementRow struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement"`
	MeasuredAt     time.Time `gorm:"column:measured_at;index:idx_device_time"`
	IngestedAt     time.Time `gorm:"column:ingested_at"`
	DeviceID       string    `gorm:"column:device_id;index:idx_device_time"`
	OrganizationID string    `gorm:"column:organization_id;index"`
	PortKey        string    `gorm:"column:port_key;index"`
	PortType       string    `gorm:"column:port_type"`
	SlaveID        string    `gorm:"column:slave_id"`
	ReadID         string    `gorm:"column:read_id;index"`
	ReadName       string    `gorm:"column:read_name"`
	ReadTag        string    `gorm:"column:read_tag"`
	RawValue       float64   `gorm:"column:raw_value"`
	Calibrated     float64   `gorm:"column:calibrated_value"`
	Unit           string    `gorm:"column:unit"`
	Quality        string    `gorm:"column:quality"`
	RegistersHex   string    `gorm:"column:registers_hex"`
	BitsToRead     uint8     `gorm:"column:bits_to_read"`
	Endianness     string    `gorm:"column:endianness"`
}

func (measurementRow) TableName() string { return "measurements" }

func toRow(m *domain.Measurement) measurementRow {
	row := measurementRow{
		MeasuredAt:     m.MeasuredAt,
		IngestedAt:     m.IngestedAt,
		DeviceID:       m.DeviceID,
		OrganizationID: m.OrganizationID,
		PortKey:        m.PortKey,
		PortType:       string(m.PortType),
		SlaveID:        m.SlaveID,
		ReadID:         m.ReadID,
		ReadName:       m.ReadName,
		ReadTag:        m.ReadTag,
		RawValue:       m.RawValue,
		Calibrated:     m.CalibratedValue,
		Unit:           m.Unit,
		Quality:        string(m.Quality),
	}
	if m.Decode != nil {
		row.RegistersHex = strings.Join(m.Decode.RawRegistersHex, ",")
		row.BitsToRead = m.Decode.BitsToRead
		row.Endianness = string(m.Decode.Endianness)
	}
	return row
}

func fromRow(r *measurementRow) domain.Measurement {
	m := domain.Measurement{
		MeasuredAt:      r.MeasuredAt,
		IngestedAt:      r.IngestedAt,
		DeviceID:        r.DeviceID,
		OrganizationID:  r.OrganizationID,
		PortKey:         r.PortKey,
		PortType:        domain.PortType(r.PortType),
		SlaveID:         r.SlaveID,
		ReadID:          r.ReadID,
		ReadName:        r.ReadName,
		ReadTag:         r.ReadTag,
		RawValue:        r.RawValue,
		CalibratedValue: r.Calibrated,
		Unit:            r.Unit,
		Quality:         domain.Quality(r.Quality),
	}
	if r.BitsToRead != 0 {
		m.Decode = &domain.ModbusDecode{
			BitsToRead: r.BitsToRead,
			Endianness: domain.Endianness(r.Endianness),
		}
		if r.RegistersHex != "" {
			m.Decode.RawRegistersHex = strings.Split(r.RegistersHex, ",")
		}
	}
	return m
}

// RangeQuery selects records for a device inside a time window.
type RangeQuery struct {
	DeviceID string
	Start    time.Time
	End      time.Time

	// Optional channel filters
	PortKey string
	ReadID  string

	// Limit caps the number of rows; 0 means no limit
	Limit int

	// Ascending returns rows oldest-first; default is newest-first
	Ascending bool
}

// AggregateQuery selects the calibrated values to aggregate.
type AggregateQuery struct {
	DeviceID string
	PortKey  string
	ReadID   string
	Start    time.Time
	End      time.Time
}

// Aggregate is the statistics bundle computed over calibrated values.
type Aggregate struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Last  float64 `json:"last"`
}

// Config holds store settings.
type Config struct {
	// Path is the SQLite database file path
	Path string

	// Breaker settings for the insert guard
	BreakerInterval  time.Duration
	BreakerTimeout   time.Duration
	BreakerThreshold uint32
}

// Store is the measurement store adapter. Inserts run behind a circuit
// breaker so a wedged database sheds ingest load fast instead of piling
// up blocked requests.
type Store struct {
	orm     *gorm.DB
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// Open opens the SQLite database, runs migrations and wires the insert
// breaker.
func Open(cfg Config, logger zerolog.Logger, m *metrics.Registry) (*Store, error) {
	orm, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open measurement store: %w", err)
	}
	if err := orm.AutoMigrate(&measurementRow{}); err != nil {
		return nil, fmt.Errorf("migrate measurement store: %w", err)
	}

	s := &Store{
		orm:     orm,
		logger:  logger.With().Str("component", "measurement-store").Logger(),
		metrics: m,
	}

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "measurement-insert",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Insert circuit breaker state changed")
			s.metrics.SetBreakerState(breakerStateValue(to))
		},
	})

	return s, nil
}

func breakerStateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// InsertBatch persists all records of one payload in a single
// transaction. The batch either lands whole or fails whole; partial
// persistence would leave a payload half-visible to the views.
func (s *Store) InsertBatch(ctx context.Context, records []domain.Measurement) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]measurementRow, len(records))
	for i := range records {
		rows[i] = toRow(&records[i])
	}

	started := time.Now()
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.orm.WithContext(ctx).Create(&rows).Error
	})
	s.metrics.RecordInsert(err == nil, len(records), time.Since(started).Seconds())

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("insert %d measurements: %w", len(records), err)
	}
	return nil
}

// Latest returns the newest record per (portKey, readID) channel for a
// device.
func (s *Store) Latest(ctx context.Context, deviceID string) ([]domain.Measurement, error) {
	started := time.Now()
	defer func() { s.metrics.RecordQuery("latest", time.Since(started).Seconds()) }()

	sub := s.orm.WithContext(ctx).Model(&measurementRow{}).
		Select("port_key, read_id, MAX(measured_at) AS ts").
		Where("device_id = ?", deviceID).
		Group("port_key, read_id")

	var rows []measurementRow
	// Rows sharing the channel's newest measured_at are tie-broken by
	// the highest insert id.
	err := s.orm.WithContext(ctx).
		Table("measurements AS m").
		Joins("JOIN (?) AS l ON l.port_key = m.port_key AND l.read_id = m.read_id AND l.ts = m.measured_at", sub).
		Where("m.device_id = ?", deviceID).
		Where("m.id = (SELECT MAX(id) FROM measurements WHERE device_id = m.device_id AND port_key = m.port_key AND read_id = m.read_id AND measured_at = m.measured_at)").
		Order("m.port_key, m.read_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest measurements for %q: %w", deviceID, err)
	}
	return rowsToMeasurements(rows), nil
}

// Range returns the records matching the query window and filters.
func (s *Store) Range(ctx context.Context, q RangeQuery) ([]domain.Measurement, error) {
	started := time.Now()
	defer func() { s.metrics.RecordQuery("range", time.Since(started).Seconds()) }()

	tx := s.orm.WithContext(ctx).Model(&measurementRow{}).
		Where("device_id = ?", q.DeviceID)
	if !q.Start.IsZero() {
		tx = tx.Where("measured_at >= ?", q.Start)
	}
	if !q.End.IsZero() {
		tx = tx.Where("measured_at <= ?", q.End)
	}
	if q.PortKey != "" {
		tx = tx.Where("port_key = ?", q.PortKey)
	}
	if q.ReadID != "" {
		tx = tx.Where("read_id = ?", q.ReadID)
	}
	if q.Ascending {
		tx = tx.Order("measured_at ASC, id ASC")
	} else {
		tx = tx.Order("measured_at DESC, id DESC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []measurementRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("range measurements for %q: %w", q.DeviceID, err)
	}
	return rowsToMeasurements(rows), nil
}

// Aggregate computes count/min/max/avg/last of calibrated values for
// one channel and window.
func (s *Store) Aggregate(ctx context.Context, q AggregateQuery) (Aggregate, error) {
	started := time.Now()
	defer func() { s.metrics.RecordQuery("aggregate", time.Since(started).Seconds()) }()

	filter := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Where("device_id = ?", q.DeviceID)
		if q.PortKey != "" {
			tx = tx.Where("port_key = ?", q.PortKey)
		}
		if q.ReadID != "" {
			tx = tx.Where("read_id = ?", q.ReadID)
		}
		if !q.Start.IsZero() {
			tx = tx.Where("measured_at >= ?", q.Start)
		}
		if !q.End.IsZero() {
			tx = tx.Where("measured_at <= ?", q.End)
		}
		return tx
	}

	var agg Aggregate
	err := filter(s.orm.WithContext(ctx).Model(&measurementRow{})).
		Select("COUNT(*) AS count, " +
			"COALESCE(MIN(calibrated_value), 0) AS min, " +
			"COALESCE(MAX(calibrated_value), 0) AS max, " +
			"COALESCE(AVG(calibrated_value), 0) AS avg").
		Scan(&agg).Error
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate measurements for %q: %w", q.DeviceID, err)
	}
	if agg.Count == 0 {
		return agg, nil
	}

	var last measurementRow
	err = filter(s.orm.WithContext(ctx).Model(&measurementRow{})).
		Order("measured_at DESC, id DESC").
		First(&last).Error
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregate last value for %q: %w", q.DeviceID, err)
	}
	agg.Last = last.Calibrated
	return agg, nil
}

// PurgeBefore removes records measured before the cutoff and returns
// how many were deleted. This is the only deletion path; stored records
// are otherwise immutable.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.orm.WithContext(ctx).
		Where("measured_at < ?", cutoff).
		Delete(&measurementRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge measurements before %v: %w", cutoff, res.Error)
	}
	s.metrics.RecordPurge(res.RowsAffected)
	return res.RowsAffected, nil
}

// HealthCheck pings the underlying database.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowsToMeasurements(rows []measurementRow) []domain.Measurement {
	out := make([]domain.Measurement, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out
}
