package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/sdoh/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type resourceRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores resources as a JSONB document plus the scalar columns
// that queries filter on.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &resourceRepoPG{pool: pool}
}

func (r *resourceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const resourceCols = `id::text, document, is_active, verified, verified_date, created_at, last_updated`

func (r *resourceRepoPG) scanResource(row pgx.Row) (*CommunityResource, error) {
	var doc []byte
	var res CommunityResource
	var isActive, verified bool
	if err := row.Scan(&res.ID, &doc, &isActive, &verified, &res.VerifiedDate, &res.CreatedAt, &res.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, created, updated, verifiedDate := res.ID, res.CreatedAt, res.LastUpdated, res.VerifiedDate
	if err := json.Unmarshal(doc, &res); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", id, err)
	}
	// columns are authoritative over the document copy
	res.ID, res.CreatedAt, res.LastUpdated, res.VerifiedDate = id, created, updated, verifiedDate
	res.IsActive, res.Verified = isActive, verified
	return &res, nil
}

func (r *resourceRepoPG) Create(ctx context.Context, res *CommunityResource) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO community_resource (id, external_id, source_provider, name, category,
			is_active, verified, verified_date, document, created_at, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		res.ID, res.ExternalID, res.SourceProvider, res.Name, string(res.Category),
		res.IsActive, res.Verified, res.VerifiedDate, doc, res.CreatedAt, res.LastUpdated)
	return err
}

func (r *resourceRepoPG) GetByID(ctx context.Context, id string) (*CommunityResource, error) {
	return r.scanResource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resourceCols+` FROM community_resource WHERE id = $1`, id))
}

func (r *resourceRepoPG) GetByExternalID(ctx context.Context, provider, externalID string) (*CommunityResource, error) {
	return r.scanResource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resourceCols+` FROM community_resource WHERE source_provider = $1 AND external_id = $2`,
		provider, externalID))
}

func (r *resourceRepoPG) Update(ctx context.Context, res *CommunityResource) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE community_resource SET external_id=$2, source_provider=$3, name=$4, category=$5,
			is_active=$6, verified=$7, verified_date=$8, document=$9, last_updated=$10
		WHERE id = $1`,
		res.ID, res.ExternalID, res.SourceProvider, res.Name, string(res.Category),
		res.IsActive, res.Verified, res.VerifiedDate, doc, res.LastUpdated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *resourceRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM community_resource WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *resourceRepoPG) List(ctx context.Context, filter ListFilter) ([]*CommunityResource, error) {
	query := `SELECT ` + resourceCols + ` FROM community_resource WHERE 1=1`
	var args []interface{}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CommunityResource
	for rows.Next() {
		res, err := r.scanResource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}
