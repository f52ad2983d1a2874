package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cmip-ref/ref-go/internal/domain"
	"github.com/cmip-ref/ref-go/internal/repo"
)

const (
	insertDatasetQuery = `INSERT INTO dataset (id, slug, instance_id, source_type, facets, retracted, created_at)
	VALUES (?, ?, ?, ?, ?, FALSE, ?)
	ON CONFLICT (slug) DO NOTHING
	RETURNING id`

	selectDatasetBySlugQuery = `SELECT id, slug, instance_id, source_type, facets, retracted, created_at
	FROM dataset WHERE slug = ?`

	listDatasetsQuery = `SELECT id, slug, instance_id, source_type, facets, retracted, created_at
	FROM dataset
	WHERE (? = '' OR source_type = ?)
	ORDER BY created_at ASC, slug ASC`

	retractDatasetQuery = `UPDATE dataset SET retracted = TRUE WHERE slug = ?`
)

func (s *Store) UpsertDataset(ctx context.Context, ds domain.Dataset) (domain.Dataset, bool, error) {
	if err := ds.Validate(); err != nil {
		return domain.Dataset{}, false, err
	}
	facets, err := encodeFacets(ds.Facets)
	if err != nil {
		return domain.Dataset{}, false, fmt.Errorf("encode facets: %w", err)
	}
	id := ds.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := ds.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var inserted string
	err = s.db.QueryRowContext(ctx, s.q(insertDatasetQuery),
		id, ds.Slug, ds.InstanceID, string(ds.SourceType), facets, createdAt.UTC(),
	).Scan(&inserted)
	created := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Dataset{}, false, fmt.Errorf("insert dataset: %w", err)
		}
		created = false
	}
	out, err := s.getDataset(ctx, ds.Slug)
	if err != nil {
		return domain.Dataset{}, false, err
	}
	return out, created, nil
}

func (s *Store) getDataset(ctx context.Context, slug string) (domain.Dataset, error) {
	row := s.db.QueryRowContext(ctx, s.q(selectDatasetBySlugQuery), slug)
	ds, err := scanDataset(row)
	if err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	return ds, nil
}

func (s *Store) ListDatasets(ctx context.Context, sourceType domain.SourceDatasetType) ([]domain.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, s.q(listDatasetsQuery), string(sourceType), string(sourceType))
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *Store) RetractDataset(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, s.q(retractDatasetQuery), slug)
	if err != nil {
		return fmt.Errorf("retract dataset: %w", err)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(row scanner) (domain.Dataset, error) {
	var (
		ds         domain.Dataset
		sourceType string
		facets     string
	)
	if err := row.Scan(&ds.ID, &ds.Slug, &ds.InstanceID, &sourceType, &facets, &ds.Retracted, &ds.CreatedAt); err != nil {
		return domain.Dataset{}, err
	}
	ds.SourceType = domain.SourceDatasetType(sourceType)
	decoded, err := decodeFacets(facets)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("decode facets for %s: %w", ds.Slug, err)
	}
	ds.Facets = decoded
	return ds, nil
}

func encodeFacets(f domain.Facets) (string, error) {
	if f == nil {
		f = domain.Facets{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeFacets(raw string) (domain.Facets, error) {
	out := domain.Facets{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
