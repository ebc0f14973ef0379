// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/commentboard/internal/model"
)

// ErrInvalidID はバックエンドが解釈できない形式のIDが渡されたことを表す。
var ErrInvalidID = errors.New("repository: invalid id")

// ErrDuplicate は一意制約に違反したことを表す。
var ErrDuplicate = errors.New("repository: duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// LikedCommentIDs はいいね関係から導出して設定される。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByProviderID はIdPのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, providerID string) (*model.User, error)

	// Create はユーザーを作成し、採番したIDを user.ID に設定する。
	// ProviderID が既に存在する場合は ErrDuplicate を返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名・メールアドレス・プロフィール画像を上書きする。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// List は全コメントを新しい順で返す。
	List(ctx context.Context) ([]*model.Comment, error)

	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// Create はコメントを作成し、ID と CreatedAt を設定する。
	Create(ctx context.Context, comment *model.Comment) error

	// AppendReply は返信を末尾に追加し、更新後のコメントを返す。
	// 見つからない場合はnilを返す。
	AppendReply(ctx context.Context, id, reply string) (*model.Comment, error)

	// Delete はコメントと関連するいいねを削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ToggleLike はユーザーのいいね状態を反転し、いいね数と同時に更新する。
	// 見つからない場合はnilを返す。
	ToggleLike(ctx context.Context, userID, commentID string) (*model.LikeResult, error)

	// LikedCommentIDs はユーザーがいいねしているコメントIDを返す。
	LikedCommentIDs(ctx context.Context, userID string) ([]string, error)
}
