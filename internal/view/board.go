package view

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// State はボードの認証状態。
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// ErrNotAuthenticated はログインしていない状態で更新操作を行った場合のエラー。
var ErrNotAuthenticated = errors.New("not authenticated")

// API はボードが利用するサーバー操作。*Client が実装する。
type API interface {
	LoginURL() string
	SetSession(token string)
	CurrentUser(ctx context.Context) (*User, error)
	Logout(ctx context.Context) error
	Comments(ctx context.Context) ([]Comment, error)
	AddComment(ctx context.Context, text string) (*Comment, error)
	ToggleLike(ctx context.Context, commentID string) (*LikeResult, error)
	AddReply(ctx context.Context, commentID, text string) error
	DeleteComment(ctx context.Context, commentID string) error
}

// compile-time interface check
var _ API = (*Client)(nil)

// Board はコメント一覧と閲覧者の状態を保持する。
// 各操作はサーバーへちょうど1回リクエストを送り、ローカル状態を反映する。
type Board struct {
	api    API
	logger *slog.Logger

	mu       sync.RWMutex
	state    State
	user     *User
	comments []Comment
	liked    map[string]bool
}

// NewBoard は新しいBoardを生成する。logger が nil の場合は slog.Default を使う。
func NewBoard(api API, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		api:    api,
		logger: logger,
		state:  StateAnonymous,
		liked:  make(map[string]bool),
	}
}

// Load はコメント一覧を取得し、現在のユーザーを確認する。
// 未認証（401）の場合は Anonymous のままとする。
func (b *Board) Load(ctx context.Context) error {
	if err := b.refresh(ctx); err != nil {
		return err
	}

	user, err := b.api.CurrentUser(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthenticated() {
			b.setAnonymous()
			return nil
		}
		b.logger.Error("failed to load current user", slog.String("error", err.Error()))
		return err
	}
	b.setUser(user)
	return nil
}

// BeginLogin は Authenticating へ遷移し、ブラウザで開くログインURLを返す。
func (b *Board) BeginLogin() string {
	b.mu.Lock()
	b.state = StateAuthenticating
	b.mu.Unlock()
	return b.api.LoginURL()
}

// CompleteLogin はログイン後のセッショントークンを受け取り、Authenticated へ遷移する。
// 失敗時は Anonymous に戻る。利用者が変わった場合はコメント一覧を再取得する。
func (b *Board) CompleteLogin(ctx context.Context, sessionToken string) error {
	b.mu.RLock()
	var prevID string
	if b.user != nil {
		prevID = b.user.ID
	}
	b.mu.RUnlock()

	b.api.SetSession(sessionToken)
	user, err := b.api.CurrentUser(ctx)
	if err != nil {
		b.setAnonymous()
		b.logger.Warn("login failed", slog.String("error", err.Error()))
		return err
	}
	b.setUser(user)

	if user.ID != prevID {
		return b.refresh(ctx)
	}
	return nil
}

// Logout はセッションを破棄して Anonymous に戻り、一覧を再取得する。
// サーバー側の破棄に失敗してもローカルは Anonymous に戻す。
func (b *Board) Logout(ctx context.Context) error {
	logoutErr := b.api.Logout(ctx)
	if logoutErr != nil {
		b.logger.Error("logout failed", slog.String("error", logoutErr.Error()))
	}
	b.setAnonymous()

	if err := b.refresh(ctx); err != nil {
		return errors.Join(logoutErr, err)
	}
	return logoutErr
}

// Post はコメントを投稿し、成功後に先頭へ追加する。
func (b *Board) Post(ctx context.Context, text string) (*Comment, error) {
	if !b.authenticated() {
		return nil, ErrNotAuthenticated
	}

	c, err := b.api.AddComment(ctx, text)
	if err != nil {
		b.logger.Error("failed to post comment", slog.String("error", err.Error()))
		return nil, err
	}

	b.mu.Lock()
	b.comments = append([]Comment{*c}, b.comments...)
	b.mu.Unlock()
	return c, nil
}

// Like はいいねを反転し、成功後にサーバーのいいね数で更新する。
func (b *Board) Like(ctx context.Context, commentID string) (*LikeResult, error) {
	if !b.authenticated() {
		return nil, ErrNotAuthenticated
	}

	res, err := b.api.ToggleLike(ctx, commentID)
	if err != nil {
		b.logger.Error("failed to toggle like",
			slog.String("comment_id", commentID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if res.Liked {
		b.liked[commentID] = true
	} else {
		delete(b.liked, commentID)
	}
	for i := range b.comments {
		if b.comments[i].ID == commentID {
			b.comments[i].Likes = res.Likes
			break
		}
	}
	return res, nil
}

// Reply は返信をローカルに即時反映してから送信する。
// 送信に失敗しても反映は取り消さない。
func (b *Board) Reply(ctx context.Context, commentID, text string) error {
	if !b.authenticated() {
		return ErrNotAuthenticated
	}

	if strings.TrimSpace(text) != "" {
		b.mu.Lock()
		for i := range b.comments {
			if b.comments[i].ID == commentID {
				b.comments[i].Replies = append(b.comments[i].Replies, text)
				break
			}
		}
		b.mu.Unlock()
	}

	if err := b.api.AddReply(ctx, commentID, text); err != nil {
		b.logger.Error("failed to add reply",
			slog.String("comment_id", commentID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Delete はコメントを削除し、成功後に一覧から取り除く。
func (b *Board) Delete(ctx context.Context, commentID string) error {
	if !b.authenticated() {
		return ErrNotAuthenticated
	}

	if err := b.api.DeleteComment(ctx, commentID); err != nil {
		b.logger.Error("failed to delete comment",
			slog.String("comment_id", commentID),
			slog.String("error", err.Error()),
		)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.comments {
		if b.comments[i].ID == commentID {
			b.comments = append(b.comments[:i], b.comments[i+1:]...)
			break
		}
	}
	delete(b.liked, commentID)
	return nil
}

// State は現在の認証状態を返す。
func (b *Board) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// User はログイン中のユーザーを返す。未ログインの場合は nil。
func (b *Board) User() *User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.user == nil {
		return nil
	}
	u := *b.user
	return &u
}

// Comments は表示中のコメントのコピーを返す。
func (b *Board) Comments() []Comment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Comment, len(b.comments))
	for i, c := range b.comments {
		c.Replies = append([]string(nil), c.Replies...)
		out[i] = c
	}
	return out
}

// HasLiked は閲覧者がコメントにいいね済みかを返す。
func (b *Board) HasLiked(commentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.liked[commentID]
}

func (b *Board) authenticated() bool {
	return b.State() == StateAuthenticated
}

func (b *Board) refresh(ctx context.Context) error {
	comments, err := b.api.Comments(ctx)
	if err != nil {
		b.logger.Error("failed to fetch comments", slog.String("error", err.Error()))
		return err
	}
	b.mu.Lock()
	b.comments = comments
	b.mu.Unlock()
	return nil
}

func (b *Board) setUser(u *User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateAuthenticated
	b.user = u
	b.liked = make(map[string]bool, len(u.LikedComments))
	for _, id := range u.LikedComments {
		b.liked[id] = true
	}
}

func (b *Board) setAnonymous() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateAnonymous
	b.user = nil
	b.liked = make(map[string]bool)
}
