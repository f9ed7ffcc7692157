package store

import (
	"database/sql"
)

// SampleRepository reads the raw samples of stored measurements.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

func insertSamples(tx *sql.Tx, measurementID string, samples []float64) error {
	if len(samples) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`INSERT INTO measurement_samples (measurement_id, sample_index, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, v := range samples {
		if _, err := stmt.Exec(measurementID, i, v); err != nil {
			return err
		}
	}
	return nil
}

// GetByMeasurementID retrieves the samples of a measurement in capture order.
func (r *SampleRepository) GetByMeasurementID(measurementID string) ([]float64, error) {
	rows, err := r.db.Query(
		`SELECT value FROM measurement_samples
		 WHERE measurement_id = ?
		 ORDER BY sample_index`,
		measurementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		samples = append(samples, v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}
