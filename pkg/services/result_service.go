package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prismsec/prism/pkg/models"
)

// ResultService persists and serves monitoring execution records.
type ResultService struct {
	db     *stdsql.DB
	logger *slog.Logger
}

// NewResultService creates a new ResultService
func NewResultService(db *stdsql.DB, logger *slog.Logger) *ResultService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultService{db: db, logger: logger}
}

// Insert persists one execution record for a task.
func (s *ResultService) Insert(httpCtx context.Context, taskID string, status models.Status, log *models.ExecutionLog) (*models.MonitoringResult, error) {
	if taskID == "" {
		return nil, NewValidationError("task_id", "required")
	}
	if log == nil {
		return nil, NewValidationError("result_data", "required")
	}

	dataJSON, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution log: %w", err)
	}

	result := &models.MonitoringResult{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Status:    status,
		Data:      log,
		CreatedAt: time.Now().UTC(),
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitoring_results (id, task_id, status, result_data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		result.ID, result.TaskID, string(result.Status), dataJSON, result.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert result: %w", err)
	}
	return result, nil
}

// ListByTask returns a task's results, newest first. limit <= 0 means no limit.
func (s *ResultService) ListByTask(ctx context.Context, taskID string, limit int) ([]*models.MonitoringResult, error) {
	query := `SELECT id, task_id, status, result_data, created_at
		FROM monitoring_results WHERE task_id = $1 ORDER BY created_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*models.MonitoringResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}

// Latest returns a task's most recent result.
func (s *ResultService) Latest(ctx context.Context, taskID string) (*models.MonitoringResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, status, result_data, created_at
		 FROM monitoring_results WHERE task_id = $1
		 ORDER BY created_at DESC LIMIT 1`, taskID)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest result: %w", err)
	}
	return result, nil
}

// PruneOlderThan deletes results created before cutoff while always keeping
// each task's newest keepLast records. Returns the number of rows removed.
func (s *ResultService) PruneOlderThan(httpCtx context.Context, cutoff time.Time, keepLast int) (int64, error) {
	if keepLast < 0 {
		keepLast = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM monitoring_results WHERE created_at < $1 AND id NOT IN (
			SELECT id FROM (
				SELECT id, row_number() OVER (PARTITION BY task_id ORDER BY created_at DESC) AS rn
				FROM monitoring_results
			) ranked WHERE rn <= $2
		 )`,
		cutoff, keepLast,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned results: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned monitoring results", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

func scanResult(row rowScanner) (*models.MonitoringResult, error) {
	var (
		result   models.MonitoringResult
		status   string
		dataJSON []byte
	)
	if err := row.Scan(&result.ID, &result.TaskID, &status, &dataJSON, &result.CreatedAt); err != nil {
		return nil, err
	}
	result.Status = models.Status(status)
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &result.Data); err != nil {
			return nil, fmt.Errorf("failed to decode result_data: %w", err)
		}
	}
	return &result, nil
}
