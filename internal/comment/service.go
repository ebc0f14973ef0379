// Package comment は掲示板コメントのドメインロジックを提供する。
package comment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/commentboard/internal/model"
	"github.com/hitoshi/commentboard/internal/repository"
)

// Recorder はコメント操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordCommentCreated()
	RecordCommentDeleted()
	RecordReplyAdded()
	RecordLikeToggled(liked bool)
}

// Service はコメントのサービス層。
// 一覧取得、投稿、いいねトグル、返信、削除のビジネスロジックを提供する。
// 認証済みユーザーの解決はハンドラー層で行い、ここでは投稿者IDのみを受け取る。
type Service struct {
	commentRepo repository.CommentRepository
	userRepo    repository.UserRepository
	metrics     Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// metrics が nil の場合は記録しない。
func NewService(
	commentRepo repository.CommentRepository,
	userRepo repository.UserRepository,
	metrics Recorder,
) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		commentRepo: commentRepo,
		userRepo:    userRepo,
		metrics:     metrics,
	}
}

// ListComments は全コメントを作成日時の新しい順で返す。
func (s *Service) ListComments(ctx context.Context) ([]*model.Comment, error) {
	comments, err := s.commentRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	if comments == nil {
		comments = []*model.Comment{}
	}
	return comments, nil
}

// CreateComment はコメントを投稿する。
// 投稿者名は投稿時点のユーザー名で固定される。
// 本文は受け取ったまま保存する。
func (s *Service) CreateComment(ctx context.Context, userID, text string) (*model.Comment, error) {
	// 1. 空白のみの本文は永続化層に触れずに失敗させる
	if strings.TrimSpace(text) == "" {
		return nil, model.NewInvalidInputError("コメント本文が空です")
	}

	// 2. 投稿者を取得
	author, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. 作成
	c := &model.Comment{
		Text:         text,
		Likes:        0,
		Replies:      []string{},
		AuthorUserID: author.ID,
		AuthorName:   author.Name,
	}
	if err := s.commentRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}

	s.metrics.RecordCommentCreated()
	slog.Info("comment created",
		slog.String("comment_id", c.ID),
		slog.String("user_id", author.ID),
	)
	return c, nil
}

// ToggleLike はユーザーのいいね状態を反転する。
// いいね関係といいね数は永続化層で同時に更新される。
func (s *Service) ToggleLike(ctx context.Context, userID, commentID string) (*model.LikeResult, error) {
	result, err := s.commentRepo.ToggleLike(ctx, userID, commentID)
	if errors.Is(err, repository.ErrInvalidID) {
		return nil, model.NewInvalidCommentIDError(commentID)
	}
	if err != nil {
		return nil, fmt.Errorf("いいねの更新に失敗しました: %w", err)
	}
	if result == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}

	s.metrics.RecordLikeToggled(result.Liked)
	slog.Debug("like toggled",
		slog.String("comment_id", commentID),
		slog.String("user_id", userID),
		slog.Bool("liked", result.Liked),
		slog.Int("likes", result.Likes),
	)
	return result, nil
}

// AddReply はコメントに返信を追記し、更新後のコメントを返す。
func (s *Service) AddReply(ctx context.Context, commentID, replyText string) (*model.Comment, error) {
	if strings.TrimSpace(replyText) == "" {
		return nil, model.NewInvalidInputError("返信本文が空です")
	}

	updated, err := s.commentRepo.AppendReply(ctx, commentID, replyText)
	if errors.Is(err, repository.ErrInvalidID) {
		return nil, model.NewInvalidCommentIDError(commentID)
	}
	if err != nil {
		return nil, fmt.Errorf("返信の追加に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}

	s.metrics.RecordReplyAdded()
	return updated, nil
}

// DeleteComment はコメントを削除する。投稿者本人のみ削除できる。
func (s *Service) DeleteComment(ctx context.Context, userID, commentID string) error {
	// 1. 対象コメントを取得
	c, err := s.commentRepo.FindByID(ctx, commentID)
	if errors.Is(err, repository.ErrInvalidID) {
		return model.NewInvalidCommentIDError(commentID)
	}
	if err != nil {
		return fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if c == nil {
		return model.NewCommentNotFoundError(commentID)
	}

	// 2. 投稿者チェック
	if c.AuthorUserID != userID {
		slog.Warn("comment delete forbidden",
			slog.String("comment_id", commentID),
			slog.String("user_id", userID),
		)
		return model.NewForbiddenError()
	}

	// 3. 削除（並行削除で既に消えていれば NotFound）
	deleted, err := s.commentRepo.Delete(ctx, commentID)
	if err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewCommentNotFoundError(commentID)
	}

	s.metrics.RecordCommentDeleted()
	slog.Info("comment deleted",
		slog.String("comment_id", commentID),
		slog.String("user_id", userID),
	)
	return nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrInvalidID) {
		return nil, model.NewUnauthenticatedError()
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

type nopRecorder struct{}

func (nopRecorder) RecordCommentCreated()  {}
func (nopRecorder) RecordCommentDeleted()  {}
func (nopRecorder) RecordReplyAdded()      {}
func (nopRecorder) RecordLikeToggled(bool) {}
