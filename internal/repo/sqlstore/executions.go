package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/repo"
)

const (
	metricExistsQuery = `SELECT id FROM metric WHERE id = ?`

	insertExecutionQuery = `INSERT INTO metric_execution (id, metric_id, key, dirty, retracted, created_at, updated_at)
	VALUES (?, ?, ?, FALSE, FALSE, ?, ?)
	ON CONFLICT (metric_id, key) DO NOTHING
	RETURNING id`

	executionColumns = `e.id, e.metric_id, e.key, e.dirty, e.retracted, e.created_at, e.updated_at`

	selectExecutionByKeyQuery = `SELECT ` + executionColumns + `
	FROM metric_execution e WHERE e.metric_id = ? AND e.key = ?`

	selectExecutionByIDQuery = `SELECT ` + executionColumns + `
	FROM metric_execution e WHERE e.id = ?`

	selectResultsQuery = `SELECT id, metric_execution_id, dataset_hash, attempt, successful, path, output_fragment, created_at, updated_at
	FROM metric_execution_result
	WHERE metric_execution_id = ?
	ORDER BY attempt ASC`

	selectResultLinksQuery = `SELECT l.result_id, l.dataset_id
	FROM metric_execution_result_dataset l
	JOIN metric_execution_result r ON r.id = l.result_id
	WHERE r.metric_execution_id = ?
	ORDER BY l.dataset_id ASC`

	maxAttemptQuery = `SELECT COALESCE(MAX(attempt), 0) FROM metric_execution_result WHERE metric_execution_id = ?`

	upsertResultQuery = `INSERT INTO metric_execution_result
	(id, metric_execution_id, dataset_hash, attempt, successful, path, output_fragment, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (metric_execution_id, dataset_hash) DO UPDATE SET
		attempt = excluded.attempt,
		successful = excluded.successful,
		path = excluded.path,
		output_fragment = excluded.output_fragment,
		updated_at = excluded.updated_at
	RETURNING id`

	insertResultLinkQuery = `INSERT INTO metric_execution_result_dataset (result_id, dataset_id)
	VALUES (?, ?)
	ON CONFLICT (result_id, dataset_id) DO NOTHING`

	selectResultByIDQuery = `SELECT id, metric_execution_id, dataset_hash, attempt, successful, path, output_fragment, created_at, updated_at
	FROM metric_execution_result WHERE id = ?`

	selectLinksForResultQuery = `SELECT dataset_id FROM metric_execution_result_dataset
	WHERE result_id = ? ORDER BY dataset_id ASC`

	clearDirtyQuery     = `UPDATE metric_execution SET dirty = FALSE, updated_at = ? WHERE id = ?`
	setDirtyQuery       = `UPDATE metric_execution SET dirty = ?, updated_at = ? WHERE id = ?`
	setRetractedQuery   = `UPDATE metric_execution SET retracted = ?, updated_at = ? WHERE id = ?`
	lockExecutionPrefix = `SELECT id FROM metric_execution WHERE id = ?`
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetOrCreateExecution(ctx context.Context, metricID, key string) (domain.MetricExecution, bool, error) {
	if strings.TrimSpace(metricID) == "" {
		return domain.MetricExecution{}, false, errors.New("metric id is required")
	}
	if strings.TrimSpace(key) == "" {
		return domain.MetricExecution{}, false, errors.New("key is required")
	}
	var found string
	if err := s.db.QueryRowContext(ctx, s.q(metricExistsQuery), metricID).Scan(&found); err != nil {
		return domain.MetricExecution{}, false, handleNotFound(err)
	}

	now := s.now()
	var id string
	err := s.db.QueryRowContext(ctx, s.q(insertExecutionQuery), uuid.NewString(), metricID, key, now, now).Scan(&id)
	created := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.MetricExecution{}, false, fmt.Errorf("insert execution: %w", err)
	}

	exec, err := scanExecution(s.db.QueryRowContext(ctx, s.q(selectExecutionByKeyQuery), metricID, key))
	if err != nil {
		return domain.MetricExecution{}, false, handleNotFound(err)
	}
	if exec.Results, err = s.loadResults(ctx, s.db, exec.ID); err != nil {
		return domain.MetricExecution{}, false, err
	}
	return exec, created, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (domain.MetricExecution, error) {
	exec, err := scanExecution(s.db.QueryRowContext(ctx, s.q(selectExecutionByIDQuery), id))
	if err != nil {
		return domain.MetricExecution{}, handleNotFound(err)
	}
	if exec.Results, err = s.loadResults(ctx, s.db, exec.ID); err != nil {
		return domain.MetricExecution{}, err
	}
	return exec, nil
}

func (s *Store) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.MetricExecution, error) {
	query, args := listExecutionsQuery(filter)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	out := make([]domain.MetricExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range out {
		if out[i].Results, err = s.loadResults(ctx, s.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func listExecutionsQuery(filter repo.ExecutionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	query := `SELECT ` + executionColumns + ` FROM metric_execution e`
	if filter.MetricSlug != "" {
		query += ` JOIN metric m ON m.id = e.metric_id`
		where = append(where, `m.slug = ?`)
		args = append(args, filter.MetricSlug)
	}
	if filter.MetricID != "" {
		where = append(where, `e.metric_id = ?`)
		args = append(args, filter.MetricID)
	}
	if filter.Dirty != nil {
		where = append(where, `e.dirty = ?`)
		args = append(args, *filter.Dirty)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY e.created_at ASC, e.key ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return query, args
}

// RecordResult stores the result as the newest attempt. Re-recording a hash
// that already has a row updates that row instead of inserting a new one.
func (s *Store) RecordResult(ctx context.Context, res domain.ExecutionResult) (domain.ExecutionResult, error) {
	if strings.TrimSpace(res.DatasetHash) == "" {
		return domain.ExecutionResult{}, errors.New("dataset hash is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var execID string
	if err := tx.QueryRowContext(ctx, s.q(lockExecutionPrefix+s.forUpdate()), res.ExecutionID).Scan(&execID); err != nil {
		return domain.ExecutionResult{}, handleNotFound(err)
	}

	var attempt int
	if err := tx.QueryRowContext(ctx, s.q(maxAttemptQuery), execID).Scan(&attempt); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("max attempt: %w", err)
	}
	attempt++

	now := s.now()
	id := res.ID
	if id == "" {
		id = uuid.NewString()
	}
	var successful any
	if res.Successful != nil {
		successful = *res.Successful
	}
	var resultID string
	err = tx.QueryRowContext(ctx, s.q(upsertResultQuery),
		id, execID, res.DatasetHash, attempt, successful, res.Path, res.OutputFragment, now, now,
	).Scan(&resultID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("upsert result: %w", err)
	}

	for _, datasetID := range res.DatasetIDs {
		if datasetID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(insertResultLinkQuery), resultID, datasetID); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("link dataset %s: %w", datasetID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(clearDirtyQuery), now, execID); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("clear dirty: %w", err)
	}

	stored, err := s.loadResult(ctx, tx, resultID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExecutionResult{}, err
	}
	return stored, nil
}

func (s *Store) SetDirty(ctx context.Context, executionID string, dirty bool) error {
	return s.updateExecution(ctx, setDirtyQuery, dirty, executionID)
}

func (s *Store) SetRetracted(ctx context.Context, executionID string, retracted bool) error {
	return s.updateExecution(ctx, setRetractedQuery, retracted, executionID)
}

func (s *Store) updateExecution(ctx context.Context, query string, value bool, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(query), value, s.now(), id)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) loadResults(ctx context.Context, q querier, executionID string) ([]domain.ExecutionResult, error) {
	rows, err := q.QueryContext(ctx, s.q(selectResultsQuery), executionID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	results := make([]domain.ExecutionResult, 0)
	index := make(map[string]int)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan result: %w", err)
		}
		index[r.ID] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(results) == 0 {
		return results, nil
	}

	links, err := q.QueryContext(ctx, s.q(selectResultLinksQuery), executionID)
	if err != nil {
		return nil, fmt.Errorf("list result datasets: %w", err)
	}
	defer func() { _ = links.Close() }()
	for links.Next() {
		var resultID, datasetID string
		if err := links.Scan(&resultID, &datasetID); err != nil {
			return nil, err
		}
		if i, ok := index[resultID]; ok {
			results[i].DatasetIDs = append(results[i].DatasetIDs, datasetID)
		}
	}
	return results, links.Err()
}

func (s *Store) loadResult(ctx context.Context, q querier, id string) (domain.ExecutionResult, error) {
	r, err := scanResult(q.QueryRowContext(ctx, s.q(selectResultByIDQuery), id))
	if err != nil {
		return domain.ExecutionResult{}, handleNotFound(err)
	}
	rows, err := q.QueryContext(ctx, s.q(selectLinksForResultQuery), id)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var datasetID string
		if err := rows.Scan(&datasetID); err != nil {
			return domain.ExecutionResult{}, err
		}
		r.DatasetIDs = append(r.DatasetIDs, datasetID)
	}
	return r, rows.Err()
}

func scanExecution(row scanner) (domain.MetricExecution, error) {
	var e domain.MetricExecution
	err := row.Scan(&e.ID, &e.MetricID, &e.Key, &e.Dirty, &e.Retracted, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanResult(row scanner) (domain.ExecutionResult, error) {
	var (
		r          domain.ExecutionResult
		successful sql.NullBool
	)
	err := row.Scan(&r.ID, &r.ExecutionID, &r.DatasetHash, &r.Attempt, &successful, &r.Path, &r.OutputFragment, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if successful.Valid {
		r.Successful = domain.BoolPtr(successful.Bool)
	}
	return r, nil
}
