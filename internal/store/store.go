// Package store persists forecast and observation records behind gorm and
// answers the filtered reads the bias engine and HTTP API are built on.
//
// Two properties the rest of the service leans on live here: upserts are
// idempotent (replaying a raw topic never duplicates rows), and observed
// outcomes are immutable unless corrections are explicitly allowed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/couchcryptid/forecast-bias-service/internal/domain"
)

var (
	// ErrNotFound indicates no row matched the query.
	ErrNotFound = errors.New("record not found")
	// ErrStoreUnavailable wraps transient database failures so callers can
	// back off and retry instead of treating them as bad data.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCorrectionConflict indicates an actual arrived with a payload that
	// differs from the stored one while corrections are disabled.
	ErrCorrectionConflict = errors.New("conflicting actual for stored identity")
)

// UpsertOutcome reports what an upsert did.
type UpsertOutcome string

const (
	// OutcomeInserted means the record was stored for the first time.
	OutcomeInserted UpsertOutcome = "inserted"
	// OutcomeUnchanged means an identical record already existed.
	OutcomeUnchanged UpsertOutcome = "unchanged"
	// OutcomeCorrected means an existing actual was overwritten.
	OutcomeCorrected UpsertOutcome = "corrected"
)

// Config controls the database connection.
type Config struct {
	Driver  string // "sqlite" or "postgres"
	DSN     string
	Timeout time.Duration // per-operation bound
}

// Store is the gorm-backed persistence layer.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	timeout time.Duration
}

// Open connects to the configured database, runs migrations, and returns a
// ready Store.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers anyway; one connection avoids
		// table-lock errors and keeps in-memory databases coherent.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&forecastRow{}, &actualRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Store{db: db, logger: logger, timeout: timeout}
	if err := s.createViews(cfg.Driver); err != nil {
		return nil, err
	}

	logger.Info("database ready", "driver", cfg.Driver)
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertForecast stores a forecast record idempotently. Replaying the same
// record is a no-op; a later issuance for the same target date inserts a new
// row and supersedes nothing at the storage level, since every issuance is
// kept for horizon analysis.
func (s *Store) UpsertForecast(ctx context.Context, rec domain.ForecastRecord) (UpsertOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := toForecastRow(rec)
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return "", fmt.Errorf("%w: upsert forecast: %v", ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return OutcomeUnchanged, nil
	}
	return OutcomeInserted, nil
}

// UpsertActual stores an observed outcome. An identical replay is a no-op.
// A differing payload for a stored (city, date, source) is a correction:
// rejected with ErrCorrectionConflict unless allowCorrection is set, in
// which case the row is overwritten and the event logged at WARN.
func (s *Store) UpsertActual(ctx context.Context, rec domain.ActualRecord, allowCorrection bool) (UpsertOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var outcome UpsertOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing actualRow
		err := tx.Where("id = ?", rec.ID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := toActualRow(rec)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			outcome = OutcomeInserted
			return nil
		case err != nil:
			return err
		}

		if existing.toDomain().SamePayload(rec) {
			outcome = OutcomeUnchanged
			return nil
		}
		if !allowCorrection {
			return ErrCorrectionConflict
		}

		row := toActualRow(rec)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		s.logger.Warn("observed outcome corrected",
			"city", rec.City,
			"date", rec.Date.Format("2006-01-02"),
			"source", rec.Source,
		)
		outcome = OutcomeCorrected
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCorrectionConflict) {
			return "", err
		}
		return "", fmt.Errorf("%w: upsert actual: %v", ErrStoreUnavailable, err)
	}
	return outcome, nil
}

// ForecastFilter narrows forecast reads. Zero values mean "no constraint";
// MinHorizon/MaxHorizon are pointers so horizon 0 can be selected explicitly.
type ForecastFilter struct {
	City       string
	Source     string
	TargetFrom time.Time
	TargetTo   time.Time
	MinHorizon *int
	MaxHorizon *int
}

// GetForecasts returns forecast records matching the filter, ordered by
// target date, then gridpoint, then issuance time.
func (s *Store) GetForecasts(ctx context.Context, filter ForecastFilter) ([]domain.ForecastRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&forecastRow{})
	if filter.City != "" {
		q = q.Where("city = ?", filter.City)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if !filter.TargetFrom.IsZero() {
		q = q.Where("target_date >= ?", filter.TargetFrom.UTC())
	}
	if !filter.TargetTo.IsZero() {
		q = q.Where("target_date <= ?", filter.TargetTo.UTC())
	}
	if filter.MinHorizon != nil {
		q = q.Where("forecast_horizon >= ?", *filter.MinHorizon)
	}
	if filter.MaxHorizon != nil {
		q = q.Where("forecast_horizon <= ?", *filter.MaxHorizon)
	}

	var rows []forecastRow
	if err := q.Order("target_date, grid_id, grid_x, grid_y, forecast_time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: get forecasts: %v", ErrStoreUnavailable, err)
	}

	out := make([]domain.ForecastRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ActualFilter narrows observation reads.
type ActualFilter struct {
	City   string
	Source string
	From   time.Time
	To     time.Time
}

// GetActuals returns observed outcomes matching the filter, ordered by date
// then source.
func (s *Store) GetActuals(ctx context.Context, filter ActualFilter) ([]domain.ActualRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&actualRow{})
	if filter.City != "" {
		q = q.Where("city = ?", filter.City)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if !filter.From.IsZero() {
		q = q.Where("date >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("date <= ?", filter.To.UTC())
	}

	var rows []actualRow
	if err := q.Order("date, source").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: get actuals: %v", ErrStoreUnavailable, err)
	}

	out := make([]domain.ActualRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// GetActual returns the single observation for (city, date, source).
func (s *Store) GetActual(ctx context.Context, city string, date time.Time, source string) (domain.ActualRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row actualRow
	err := s.db.WithContext(ctx).
		Where("city = ? AND date = ? AND source = ?", city, date.UTC(), source).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ActualRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ActualRecord{}, fmt.Errorf("%w: get actual: %v", ErrStoreUnavailable, err)
	}
	return row.toDomain(), nil
}

// Cities returns the distinct cities present in the forecast table, used by
// the summary reporter when no explicit city list is configured.
func (s *Store) Cities(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cities []string
	err := s.db.WithContext(ctx).Model(&forecastRow{}).
		Distinct("city").Order("city").Pluck("city", &cities).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list cities: %v", ErrStoreUnavailable, err)
	}
	return cities, nil
}
