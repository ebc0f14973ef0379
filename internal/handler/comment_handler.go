package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/commentboard/internal/middleware"
	"github.com/hitoshi/commentboard/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 64 << 10

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	// ListComments は全コメントを新しい順で返す。
	ListComments(ctx context.Context) ([]*model.Comment, error)
	// CreateComment はコメントを投稿する。
	CreateComment(ctx context.Context, userID, text string) (*model.Comment, error)
	// ToggleLike はいいね状態を反転する。
	ToggleLike(ctx context.Context, userID, commentID string) (*model.LikeResult, error)
	// AddReply は返信を追記し、更新後のコメントを返す。
	AddReply(ctx context.Context, commentID, replyText string) (*model.Comment, error)
	// DeleteComment は投稿者本人のコメントを削除する。
	DeleteComment(ctx context.Context, userID, commentID string) error
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

// commentResponse はコメントのAPIレスポンス。
type commentResponse struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	Likes     int       `json:"likes"`
	Replies   []string  `json:"replies"`
	UserID    string    `json:"userid"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type likeResponse struct {
	Liked     bool   `json:"liked"`
	Likes     int    `json:"likes"`
	CommentID string `json:"commentId"`
}

type addCommentRequest struct {
	Text string `json:"text"`
}

type addReplyRequest struct {
	ReplyText string `json:"replyText"`
}

func toCommentResponse(c *model.Comment) commentResponse {
	replies := c.Replies
	if replies == nil {
		replies = []string{}
	}
	return commentResponse{
		ID:        c.ID,
		Text:      c.Text,
		Likes:     c.Likes,
		Replies:   replies,
		UserID:    c.AuthorUserID,
		Username:  c.AuthorName,
		CreatedAt: c.CreatedAt,
	}
}

// GetComments はコメント一覧を返す。認証不要。
// GET /api/get-comments
func (h *CommentHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]commentResponse, len(comments))
	for i, c := range comments {
		resp[i] = toCommentResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddComment はコメントを投稿する。
// POST /api/add-comment
func (h *CommentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addCommentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.service.CreateComment(r.Context(), userID, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(c))
}

// LikeComment はいいねをトグルする。
// PUT /api/like-comment/{id}
func (h *CommentHandler) LikeComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.ToggleLike(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{
		Liked:     result.Liked,
		Likes:     result.Likes,
		CommentID: result.CommentID,
	})
}

// AddReply はコメントに返信を追加する。
// PUT /api/add-reply/{id}
func (h *CommentHandler) AddReply(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	var req addReplyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.service.AddReply(r.Context(), chi.URLParam(r, "id"), req.ReplyText)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommentResponse(c))
}

// DeleteComment はコメントを削除する。
// DELETE /api/delete-comment/{id}
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteComment(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted successfully"})
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを取り出す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return "", false
	}
	return userID, true
}

// decodeBody はJSONボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}
