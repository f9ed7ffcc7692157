package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Outcome values stored in the measurements table.
const (
	OutcomeFinished = "finished"
	OutcomeAborted  = "aborted"
)

// Measurement is one stored measurement window.
type Measurement struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     string    `json:"outcome"`
	Rate        string    `json:"rate"`
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Duration is the length of the measurement window.
func (m *Measurement) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// MeasurementRepository provides CRUD operations for measurements.
type MeasurementRepository struct {
	db *sql.DB
}

// Measurements returns the measurement repository for this store.
func (s *Store) Measurements() *MeasurementRepository {
	return &MeasurementRepository{db: s.db}
}

// Create inserts a measurement and its samples in a single transaction.
func (r *MeasurementRepository) Create(m *Measurement, samples []float64) error {
	if m.ID == "" {
		return errors.New("measurement id is required")
	}
	m.CreatedAt = time.Now()
	m.SampleCount = len(samples)

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO measurements (id, started_at, ended_at, outcome, rate, sample_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.StartedAt, m.EndedAt, m.Outcome, m.Rate, m.SampleCount, m.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert measurement %s", m.ID)
	}

	if err := insertSamples(tx, m.ID, samples); err != nil {
		return errors.Wrapf(err, "insert samples for %s", m.ID)
	}

	return tx.Commit()
}

// GetByID retrieves a measurement by its ID.
func (r *MeasurementRepository) GetByID(id string) (*Measurement, error) {
	m := &Measurement{}
	err := r.db.QueryRow(
		`SELECT id, started_at, ended_at, outcome, rate, sample_count, created_at
		 FROM measurements WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.StartedAt, &m.EndedAt, &m.Outcome, &m.Rate, &m.SampleCount, &m.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// List retrieves measurements, newest first. A limit of zero or less returns
// all of them.
func (r *MeasurementRepository) List(limit int) ([]*Measurement, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT id, started_at, ended_at, outcome, rate, sample_count, created_at
		 FROM measurements ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Measurement
	for rows.Next() {
		m := &Measurement{}
		if err := rows.Scan(&m.ID, &m.StartedAt, &m.EndedAt, &m.Outcome, &m.Rate, &m.SampleCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Delete removes a measurement and its samples.
func (r *MeasurementRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM measurements WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
