package referral

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

type referralRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores each referral as one JSONB document, so appended contact
// attempts, outcomes and history are written atomically with the status.
// The version column guards every update.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &referralRepoPG{pool: pool}
}

func (r *referralRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const referralCols = `document, version`

func (r *referralRepoPG) scanReferral(row pgx.Row) (*Referral, error) {
	var (
		doc     []byte
		version int
		ref     Referral
	)
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(doc, &ref); err != nil {
		return nil, fmt.Errorf("decode referral: %w", err)
	}
	ref.Version = version
	return &ref, nil
}

func (r *referralRepoPG) Create(ctx context.Context, ref *Referral) error {
	doc, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode referral: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO sdoh_referral (id, patient_id, resource_id, need, status, referred_date,
			closed_date, version, document, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ref.ID, ref.PatientID, ref.ResourceID, string(ref.Need), string(ref.Status), ref.ReferredDate,
		ref.ClosedDate, ref.Version, doc, ref.CreatedAt, ref.UpdatedAt)
	return err
}

func (r *referralRepoPG) GetByID(ctx context.Context, id string) (*Referral, error) {
	return r.scanReferral(r.conn(ctx).QueryRow(ctx,
		`SELECT `+referralCols+` FROM sdoh_referral WHERE id = $1`, id))
}

func (r *referralRepoPG) Update(ctx context.Context, ref *Referral, expectedVersion int) error {
	doc, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode referral: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sdoh_referral SET status=$2, closed_date=$3, version=$4, document=$5, updated_at=$6
		WHERE id = $1 AND version = $7`,
		ref.ID, string(ref.Status), ref.ClosedDate, ref.Version, doc, ref.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM sdoh_referral WHERE id = $1)`, ref.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *referralRepoPG) List(ctx context.Context, f Filter) ([]*Referral, error) {
	query := `SELECT ` + referralCols + ` FROM sdoh_referral WHERE 1=1`
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Need != "" {
		add("need = $%d", string(f.Need))
	}
	if f.From != nil {
		add("referred_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("referred_date <= $%d", *f.To)
	}
	query += ` ORDER BY referred_date DESC, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := r.scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

func (r *referralRepoPG) CountByResource(ctx context.Context, resourceID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM sdoh_referral WHERE resource_id = $1`, resourceID).Scan(&n)
	return n, err
}
