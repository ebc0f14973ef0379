package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// googleIssuers はGoogleが発行するIDトークンのiss値。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// googleIDClaims はGoogle IDトークンのクレーム。
type googleIDClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// IDTokenVerifier はJWKSの公開鍵でIDトークンを検証する。
type IDTokenVerifier struct {
	keyfunc  jwt.Keyfunc
	audience string
	issuers  []string
	stop     func()
}

// NewIDTokenVerifier は任意のKeyfuncを使うIDTokenVerifierを生成する。
func NewIDTokenVerifier(kf jwt.Keyfunc, audience string) *IDTokenVerifier {
	return &IDTokenVerifier{
		keyfunc:  kf,
		audience: audience,
		issuers:  googleIssuers,
	}
}

// NewGoogleIDTokenVerifier はjwksURLから署名鍵を取得し、バックグラウンドで定期更新する。
// 不明なkidのトークンを受け取った場合も鍵を再取得する。
func NewGoogleIDTokenVerifier(ctx context.Context, jwksURL, audience string) (*IDTokenVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Warn("JWKSの更新に失敗しました", slog.String("url", jwksURL), slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}

	v := NewIDTokenVerifier(jwks.Keyfunc, audience)
	v.stop = jwks.EndBackground
	return v, nil
}

// Close はJWKSのバックグラウンド更新を停止する。
func (v *IDTokenVerifier) Close() {
	if v.stop != nil {
		v.stop()
	}
}

// Verify はIDトークンの署名・audience・issuer・有効期限を検証し、ユーザー情報を返す。
func (v *IDTokenVerifier) Verify(_ context.Context, rawIDToken string) (*OAuthUserInfo, error) {
	claims := &googleIDClaims{}
	_, err := jwt.ParseWithClaims(rawIDToken, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}

	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("unexpected id token issuer: %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("id token has no subject")
	}

	return &OAuthUserInfo{
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		Name:           claims.Name,
		PictureURL:     claims.Picture,
		Provider:       "google",
	}, nil
}

// compile-time interface check
var _ TokenVerifier = (*IDTokenVerifier)(nil)
