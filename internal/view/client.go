// Package view は掲示板APIのクライアントと、画面状態を保持するボードを提供する。
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	sessionCookieName = "session_id"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

// User はログイン中ユーザーの公開情報。
type User struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Photo         string   `json:"photo"`
	LikedComments []string `json:"likedComments"`
}

// Comment はAPIが返すコメント。
type Comment struct {
	ID        string    `json:"_id"`
	Text      string    `json:"text"`
	Likes     int       `json:"likes"`
	Replies   []string  `json:"replies"`
	UserID    string    `json:"userid"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// LikeResult はいいねトグルの結果。
type LikeResult struct {
	Liked     bool   `json:"liked"`
	Likes     int    `json:"likes"`
	CommentID string `json:"commentId"`
}

// APIError はサーバーが返したエラーレスポンス。
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d [%s] %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthenticated は401応答かどうかを返す。
func (e *APIError) IsUnauthenticated() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Client は掲示板APIのHTTPクライアント。
// セッションCookieとCSRFトークンCookieをCookieJarで保持する。
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient はbaseURLに対するClientを生成する。
// httpClient が nil の場合は10秒タイムアウトのクライアントを使う。
// 渡されたクライアントのJarは上書きされる。
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	httpClient.Jar = jar
	// ログインのリダイレクトは追わない
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{baseURL: u, http: httpClient}, nil
}

// LoginURL はブラウザで開くログイン開始URLを返す。
func (c *Client) LoginURL() string {
	return c.baseURL.String() + "/auth/login-start"
}

// SetSession はログイン後にブラウザから取得したセッショントークンを設定する。
func (c *Client) SetSession(token string) {
	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  sessionCookieName,
		Value: token,
		Path:  "/",
	}})
}

// Session は現在のセッショントークンを返す。未設定の場合は空文字列。
func (c *Client) Session() string {
	return c.cookie(sessionCookieName)
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// CurrentUser はログイン中のユーザーを返す。未ログインの場合は401のAPIErrorを返す。
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/current-user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout はセッションを破棄する。
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	// サーバーが削除Cookieを返すがJarからも確実に消す
	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{Name: sessionCookieName, Path: "/", MaxAge: -1}})
	return nil
}

// Comments はコメント一覧を新しい順で返す。
func (c *Client) Comments(ctx context.Context) ([]Comment, error) {
	var out []Comment
	if err := c.do(ctx, http.MethodGet, "/api/get-comments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment はコメントを投稿し、作成されたコメントを返す。
func (c *Client) AddComment(ctx context.Context, text string) (*Comment, error) {
	var out Comment
	if err := c.do(ctx, http.MethodPost, "/api/add-comment", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleLike はいいねを反転する。
func (c *Client) ToggleLike(ctx context.Context, commentID string) (*LikeResult, error) {
	var out LikeResult
	if err := c.do(ctx, http.MethodPut, "/api/like-comment/"+url.PathEscape(commentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddReply は返信を追加する。
func (c *Client) AddReply(ctx context.Context, commentID, text string) error {
	return c.do(ctx, http.MethodPut, "/api/add-reply/"+url.PathEscape(commentID), map[string]string{"replyText": text}, nil)
}

// DeleteComment はコメントを削除する。
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/delete-comment/"+url.PathEscape(commentID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if token := c.cookie(csrfCookieName); token != "" {
			req.Header.Set(csrfHeaderName, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// 本文がJSONでない場合もステータスだけで返す
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
