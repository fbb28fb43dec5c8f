package model

import (
	"database/sql"
	"fmt"
)

const (
	MetricTotalUsers       = "total_users"
	MetricDeletedUserCount = "deleted_user_count"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// adjustMetric adds delta to a counter, flooring it at zero.
func adjustMetric(db execer, name string, delta int) error {
	_, err := db.Exec(`
		INSERT INTO system_metrics (metric_name, metric_value) VALUES (?, MAX(?, 0))
		ON CONFLICT(metric_name) DO UPDATE SET metric_value = MAX(metric_value + ?, 0)`,
		name, delta, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust metric %s: %w", name, err)
	}
	return nil
}

// GetMetric returns a counter's value; unknown counters read as zero.
func GetMetric(db *sql.DB, name string) (int64, error) {
	var value int64
	err := db.QueryRow("SELECT metric_value FROM system_metrics WHERE metric_name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read metric %s: %w", name, err)
	}
	return value, nil
}
