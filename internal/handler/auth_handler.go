// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/commentboard/internal/middleware"
	"github.com/hitoshi/commentboard/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// StateIssuer はOAuthのstate値の発行と検証を行う。
// Issue はstateとブラウザに保持させるnonceを返す。
type StateIssuer interface {
	Issue() (state, nonce string, err error)
	Verify(state, nonce string) error
}

// LoginRecorder はログイン成否のメトリクス記録インターフェース。
type LoginRecorder interface {
	RecordLogin(success bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL         string
	LoginFailureURL string
	CookieDomain    string
	CookieSecure    bool
	CookieSameSite  http.SameSite
	SessionMaxAge   int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	state    StateIssuer
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorder は nil でもよい。
func NewAuthHandler(service AuthServiceInterface, state StateIssuer, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	if config.CookieSameSite == 0 {
		config.CookieSameSite = http.SameSiteLaxMode
	}
	return &AuthHandler{
		service:  service,
		state:    state,
		recorder: recorder,
		config:   config,
	}
}

// currentUserResponse は現在のユーザーの公開情報。
type currentUserResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Photo         string   `json:"photo"`
	LikedComments []string `json:"likedComments"`
}

// LoginStart はGoogle OAuthフローを開始する。
// GET /auth/login-start
func (h *AuthHandler) LoginStart(w http.ResponseWriter, r *http.Request) {
	state, nonce, err := h.state.Issue()
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// nonceをCookieに保存し、コールバックでstateと突き合わせる
	h.setCookie(w, oauthStateCookie, nonce, oauthStateMaxAge)

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// LoginCallback はOAuthコールバックを処理する。
// GET /auth/login-callback?code=xxx&state=yyy
// どの段階で失敗してもセッションは作らず、失敗用URLへリダイレクトする。
func (h *AuthHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// stateクッキーは成否に関わらず削除
	nonce := ""
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		nonce = c.Value
	}
	h.setCookie(w, oauthStateCookie, "", -1)

	// 1. プロバイダー側のエラー
	if providerErr := q.Get("error"); providerErr != "" {
		h.loginFailed(w, r, "provider returned error", slog.String("provider_error", providerErr))
		return
	}

	// 2. stateの検証（CSRF対策）
	if nonce == "" {
		h.loginFailed(w, r, "missing oauth state cookie")
		return
	}
	if err := h.state.Verify(q.Get("state"), nonce); err != nil {
		h.loginFailed(w, r, "oauth state mismatch", slog.String("error", err.Error()))
		return
	}

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		h.loginFailed(w, r, "missing authorization code")
		return
	}

	// 4. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		h.loginFailed(w, r, "oauth callback failed", slog.String("error", err.Error()))
		return
	}

	// 5. セッションCookieを設定（HTTP Only）
	h.setCookie(w, middleware.SessionCookieName, session.ID, h.config.SessionMaxAge)
	if h.recorder != nil {
		h.recorder.RecordLogin(true)
	}

	// 6. クライアントにリダイレクト
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, msg string, attrs ...any) {
	slog.Warn(msg, attrs...)
	if h.recorder != nil {
		h.recorder.RecordLogin(false)
	}
	http.Redirect(w, r, h.config.LoginFailureURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。セッションが無くても成功とする。
// GET|POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	// 破棄に失敗してもCookieはクリアする
	h.setCookie(w, middleware.SessionCookieName, "", -1)

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CurrentUser は現在のログインユーザー情報を返す。
// GET /auth/current-user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	liked := user.LikedCommentIDs
	if liked == nil {
		liked = []string{}
	}
	writeJSON(w, http.StatusOK, currentUserResponse{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Photo:         user.ProfilePictureURL,
		LikedComments: liked,
	})
}

// setCookie はHttpOnlyのCookieを設定する。maxAge が負の場合は削除する。
func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: h.config.CookieSameSite,
	})
}
