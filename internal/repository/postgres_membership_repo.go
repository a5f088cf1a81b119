package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/momentum/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用した組織メンバーシップリポジトリ。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

const membershipJoinSelect = `
	SELECT m.id, m.user_id, m.organization_id, m.role, m.created_at, m.updated_at,
	       o.id, o.name, o.slug, o.created_at, o.updated_at
	FROM organization_members m
	JOIN organizations o ON o.id = m.organization_id`

func scanMembership(row interface{ Scan(...any) error }) (*model.Membership, error) {
	m := &model.Membership{}
	var role string
	err := row.Scan(
		&m.ID, &m.UserID, &m.OrganizationID, &role, &m.CreatedAt, &m.UpdatedAt,
		&m.Organization.ID, &m.Organization.Name, &m.Organization.Slug,
		&m.Organization.CreatedAt, &m.Organization.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	return m, nil
}

// ListByUserID はユーザーの所属一覧を組織情報と結合して作成日時の昇順で返す。
func (r *PostgresMembershipRepo) ListByUserID(ctx context.Context, userID string) ([]model.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		membershipJoinSelect+`
		 WHERE m.user_id = $1
		 ORDER BY m.created_at ASC, m.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}

// Find は組織IDとユーザーIDでメンバーシップを検索する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) Find(ctx context.Context, organizationID, userID string) (*model.Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx,
		membershipJoinSelect+` WHERE m.organization_id = $1 AND m.user_id = $2`,
		organizationID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// FindByID は指定IDのメンバーシップを取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) FindByID(ctx context.Context, id string) (*model.Membership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx,
		membershipJoinSelect+` WHERE m.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership by ID: %w", err)
	}
	return m, nil
}

// ListMembers は組織のメンバー一覧をプロフィール情報と結合して返す。
// プロフィール未作成のユーザーはusersテーブルの値で補完する。
func (r *PostgresMembershipRepo) ListMembers(ctx context.Context, organizationID string) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.user_id, m.role, m.created_at,
		        COALESCE(p.email, u.email),
		        COALESCE(p.name, u.name),
		        COALESCE(p.avatar_url, u.avatar_url)
		 FROM organization_members m
		 JOIN users u ON u.id = m.user_id
		 LEFT JOIN profiles p ON p.id = m.user_id
		 WHERE m.organization_id = $1
		 ORDER BY m.created_at ASC, m.id ASC`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var mem model.Member
		var role string
		var avatarURL sql.NullString
		if err := rows.Scan(&mem.ID, &mem.UserID, &role, &mem.CreatedAt, &mem.Email, &mem.Name, &avatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		mem.Role = model.Role(role)
		if avatarURL.Valid {
			mem.AvatarURL = &avatarURL.String
		}
		members = append(members, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// Add はメンバーシップを作成する。
// 既に所属している場合は ErrDuplicate を返す。
func (r *PostgresMembershipRepo) Add(ctx context.Context, m *model.Membership) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO organization_members (id, user_id, organization_id, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.OrganizationID, string(m.Role), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// Delete は指定IDのメンバーシップを削除する。
func (r *PostgresMembershipRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM organization_members WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

// DeleteUnlessLastOwner は指定IDのメンバーシップを削除する。
// 組織行を FOR UPDATE でロックしてからowner数を確認するため、
// 同じ組織のowner削除が並行しても最後のownerは残る。
func (r *PostgresMembershipRepo) DeleteUnlessLastOwner(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var organizationID, role string
	err = tx.QueryRowContext(ctx,
		`SELECT organization_id, role FROM organization_members WHERE id = $1`,
		id,
	).Scan(&organizationID, &role)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find membership: %w", err)
	}

	if model.Role(role) == model.RoleOwner {
		if _, err := tx.ExecContext(ctx,
			`SELECT 1 FROM organizations WHERE id = $1 FOR UPDATE`,
			organizationID,
		); err != nil {
			return fmt.Errorf("failed to lock organization: %w", err)
		}

		// ロック取得後に読み直す
		var owners int
		var stillOwner bool
		err = tx.QueryRowContext(ctx,
			`SELECT count(*),
			        COALESCE(bool_or(id = $2), false)
			 FROM organization_members
			 WHERE organization_id = $1 AND role = 'owner'`,
			organizationID, id,
		).Scan(&owners, &stillOwner)
		if err != nil {
			return fmt.Errorf("failed to count owners: %w", err)
		}
		if stillOwner && owners <= 1 {
			return ErrLastOwner
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM organization_members WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountOwners は組織のowner数を返す。
func (r *PostgresMembershipRepo) CountOwners(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM organization_members WHERE organization_id = $1 AND role = 'owner'`,
		organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
