package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per measurement window that ended, finished or aborted
		`CREATE TABLE IF NOT EXISTS measurements (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			outcome TEXT NOT NULL CHECK(outcome IN ('finished', 'aborted')),
			rate TEXT NOT NULL DEFAULT '',
			sample_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Raw red channel intensities captured during a measurement
		`CREATE TABLE IF NOT EXISTS measurement_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			measurement_id TEXT NOT NULL REFERENCES measurements(id) ON DELETE CASCADE,
			sample_index INTEGER NOT NULL,
			value REAL NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_measurements_started_at ON measurements(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_measurement_samples_measurement_id ON measurement_samples(measurement_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
