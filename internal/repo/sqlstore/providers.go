package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cmip-ref/ref-go/internal/domain"
)

const (
	insertProviderQuery = `INSERT INTO provider (id, slug, version, name, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (slug, version) DO NOTHING
	RETURNING id`

	selectProviderQuery = `SELECT id, slug, version, name, created_at
	FROM provider WHERE slug = ? AND version = ?`

	insertMetricQuery = `INSERT INTO metric (id, provider_id, slug, name, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (provider_id, slug) DO NOTHING
	RETURNING id`

	selectMetricQuery = `SELECT id, provider_id, slug, name, created_at
	FROM metric WHERE provider_id = ? AND slug = ?`
)

func (s *Store) GetOrCreateProvider(ctx context.Context, p domain.Provider) (domain.Provider, bool, error) {
	if strings.TrimSpace(p.Slug) == "" {
		return domain.Provider{}, false, errors.New("provider slug is required")
	}
	var id string
	err := s.db.QueryRowContext(ctx, s.q(insertProviderQuery),
		uuid.NewString(), p.Slug, p.Version, p.Name, s.now(),
	).Scan(&id)
	created := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Provider{}, false, fmt.Errorf("insert provider: %w", err)
	}

	var out domain.Provider
	err = s.db.QueryRowContext(ctx, s.q(selectProviderQuery), p.Slug, p.Version).
		Scan(&out.ID, &out.Slug, &out.Version, &out.Name, &out.CreatedAt)
	if err != nil {
		return domain.Provider{}, false, handleNotFound(err)
	}
	return out, created, nil
}

func (s *Store) GetOrCreateMetric(ctx context.Context, m domain.Metric) (domain.Metric, bool, error) {
	if strings.TrimSpace(m.Slug) == "" {
		return domain.Metric{}, false, errors.New("metric slug is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return domain.Metric{}, false, errors.New("provider id is required")
	}
	var id string
	err := s.db.QueryRowContext(ctx, s.q(insertMetricQuery),
		uuid.NewString(), m.ProviderID, m.Slug, m.Name, s.now(),
	).Scan(&id)
	created := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Metric{}, false, fmt.Errorf("insert metric: %w", err)
	}

	var out domain.Metric
	err = s.db.QueryRowContext(ctx, s.q(selectMetricQuery), m.ProviderID, m.Slug).
		Scan(&out.ID, &out.ProviderID, &out.Slug, &out.Name, &out.CreatedAt)
	if err != nil {
		return domain.Metric{}, false, handleNotFound(err)
	}
	return out, created, nil
}
