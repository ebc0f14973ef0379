package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/commentboard/internal/model"
)

// queryer は *sql.DB と *sql.Tx の共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const commentColumns = `id, text, likes, replies, user_id, username, created_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
// いいね関係は comment_likes テーブルのみに保持し、comments.likes は同一トランザクションで更新する。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// List は全コメントを新しい順で返す。
func (r *PostgresCommentRepo) List(ctx context.Context) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	c, err := scanComment(r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return c, nil
}

// Create はコメントを作成し、ID と CreatedAt を設定する。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	if _, err := uuid.Parse(comment.AuthorUserID); err != nil {
		return ErrInvalidID
	}

	id := uuid.NewString()
	now := time.Now()
	replies := comment.Replies
	if replies == nil {
		replies = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, text, likes, replies, user_id, username, created_at)
		 VALUES ($1, $2, 0, $3, $4, $5, $6)`,
		id, comment.Text, pq.Array(replies), comment.AuthorUserID, comment.AuthorName, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}

	comment.ID = id
	comment.Likes = 0
	comment.Replies = replies
	comment.CreatedAt = now
	return nil
}

// AppendReply は返信を末尾に追加し、更新後のコメントを返す。
func (r *PostgresCommentRepo) AppendReply(ctx context.Context, id, reply string) (*model.Comment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	c, err := scanComment(r.db.QueryRowContext(ctx,
		`UPDATE comments SET replies = array_append(replies, $2)
		 WHERE id = $1
		 RETURNING `+commentColumns,
		id, reply,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append reply: %w", err)
	}
	return c, nil
}

// Delete はコメントを削除する。comment_likes はCASCADE削除される。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrInvalidID
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete comment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ToggleLike はユーザーのいいね状態を反転する。
// コメント行を FOR UPDATE でロックし、同一コメントへの並行トグルを直列化する。
func (r *PostgresCommentRepo) ToggleLike(ctx context.Context, userID, commentID string) (*model.LikeResult, error) {
	if _, err := uuid.Parse(commentID); err != nil {
		return nil, ErrInvalidID
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ErrInvalidID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. コメント行をロック
	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM comments WHERE id = $1 FOR UPDATE`, commentID,
	).Scan(&locked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock comment: %w", err)
	}

	// 2. 既存のいいねを削除してみる
	result, err := tx.ExecContext(ctx,
		`DELETE FROM comment_likes WHERE user_id = $1 AND comment_id = $2`,
		userID, commentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// 3. 削除できなければいいねを追加
	delta := -1
	if removed == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO comment_likes (user_id, comment_id, created_at) VALUES ($1, $2, now())`,
			userID, commentID,
		); err != nil {
			return nil, fmt.Errorf("failed to insert like: %w", err)
		}
		delta = 1
	}

	// 4. いいね数を更新
	res := &model.LikeResult{CommentID: commentID, Liked: delta > 0}
	if err := tx.QueryRowContext(ctx,
		`UPDATE comments SET likes = likes + $2 WHERE id = $1 RETURNING likes`,
		commentID, delta,
	).Scan(&res.Likes); err != nil {
		return nil, fmt.Errorf("failed to update like count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// LikedCommentIDs はユーザーがいいねしているコメントIDを返す。
func (r *PostgresCommentRepo) LikedCommentIDs(ctx context.Context, userID string) ([]string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ErrInvalidID
	}
	return queryLikedCommentIDs(ctx, r.db, userID)
}

func queryLikedCommentIDs(ctx context.Context, q queryer, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT comment_id FROM comment_likes WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked comments: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan liked comment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate liked comments: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(s rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	if err := s.Scan(&c.ID, &c.Text, &c.Likes, pq.Array(&c.Replies),
		&c.AuthorUserID, &c.AuthorName, &c.CreatedAt); err != nil {
		return nil, err
	}
	if c.Replies == nil {
		c.Replies = []string{}
	}
	return c, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
