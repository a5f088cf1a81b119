package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/model"
)

// PostgresOrganizationRepo はPostgreSQLを使用した組織リポジトリ。
type PostgresOrganizationRepo struct {
	db *sql.DB
}

// NewPostgresOrganizationRepo はPostgresOrganizationRepoを生成する。
func NewPostgresOrganizationRepo(db *sql.DB) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{db: db}
}

// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
func (r *PostgresOrganizationRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	org := &model.Organization{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}
	return org, nil
}

// SlugExists は指定slugの組織が既に存在するかを返す。
func (r *PostgresOrganizationRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE slug = $1)`,
		slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check organization slug: %w", err)
	}
	return exists, nil
}

// CreateWithOwner は組織と作成者のownerメンバーシップを同一トランザクションで作成する。
func (r *PostgresOrganizationRepo) CreateWithOwner(ctx context.Context, org *model.Organization, ownerUserID string) (*model.Membership, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, org.Slug, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok && pqErr.Constraint == "organizations_slug_key" {
			return nil, ErrSlugConflict
		}
		return nil, fmt.Errorf("failed to insert organization: %w", err)
	}

	membership := &model.Membership{
		ID:             uuid.New().String(),
		UserID:         ownerUserID,
		OrganizationID: org.ID,
		Role:           model.RoleOwner,
		CreatedAt:      now,
		UpdatedAt:      now,
		Organization:   *org,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO organization_members (id, user_id, organization_id, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		membership.ID, membership.UserID, membership.OrganizationID, string(membership.Role),
		membership.CreatedAt, membership.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return membership, nil
}

// compile-time interface check
var _ OrganizationRepository = (*PostgresOrganizationRepo)(nil)
