package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/commentboard/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	user, err := r.findOne(ctx, `WHERE id = $1`, id)
	if err != nil || user == nil {
		return user, err
	}

	liked, err := queryLikedCommentIDs(ctx, r.db, user.ID)
	if err != nil {
		return nil, err
	}
	user.LikedCommentIDs = liked
	return user, nil
}

// FindByProviderID はIdPのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	return r.findOne(ctx, `WHERE provider_id = $1`, providerID)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider_id, name, email, profile_pic, created_at, updated_at FROM users `+where,
		arg,
	).Scan(&user.ID, &user.ProviderID, &user.Name, &user.Email, &user.ProfilePictureURL,
		&user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番したIDを user.ID に設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	id := uuid.NewString()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, provider_id, name, email, profile_pic, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, user.ProviderID, user.Name, user.Email, user.ProfilePictureURL, now, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// UpdateProfile は表示名・メールアドレス・プロフィール画像を上書きする。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, profile_pic = $4, updated_at = $5 WHERE id = $1`,
		user.ID, user.Name, user.Email, user.ProfilePictureURL, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	user.UpdatedAt = now
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
