package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/commentboard/internal/model"
	"github.com/hitoshi/commentboard/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByProviderIDFn func(ctx context.Context, providerID string) (*model.User, error)
	createFn           func(ctx context.Context, user *model.User) error
	updateProfileFn    func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	if m.findByProviderIDFn != nil {
		return m.findByProviderIDFn(ctx, providerID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	user.ID = "generated-user-id"
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, user)
	}
	return nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, session *model.Session) error
	findByIDFn      func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn    func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

func aliceProvider() *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-user-123",
				Email:          "alice@example.com",
				Name:           "Alice",
				PictureURL:     "https://example.com/alice.png",
				Provider:       "google",
			}, nil
		},
	}
}

// --- テスト ---

func TestGetLoginURL_ReturnsOAuthURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(provider, &mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	url := svc.GetLoginURL("test-state")
	if url != "https://accounts.google.com/o/oauth2/auth?state=test-state" {
		t.Errorf("GetLoginURL() = %q", url)
	}
}

func TestHandleCallback_NewUser_CreatesUserAndSession(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdSession *model.Session

	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			user.ID = "new-user-id"
			createdUser = user
			return nil
		},
		updateProfileFn: func(ctx context.Context, user *model.User) error {
			t.Error("UpdateProfile should not be called for a new user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(aliceProvider(), userRepo, sessionRepo, ServiceConfig{SessionMaxAge: 86400})

	session, err := svc.HandleCallback(ctx, "auth-code-123")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if createdUser == nil {
		t.Fatal("expected user to be created")
	}
	if createdUser.ProviderID != "google-user-123" {
		t.Errorf("ProviderID = %q", createdUser.ProviderID)
	}
	if createdUser.Name != "Alice" || createdUser.Email != "alice@example.com" {
		t.Errorf("unexpected user: %+v", createdUser)
	}
	if createdUser.ProfilePictureURL != "https://example.com/alice.png" {
		t.Errorf("ProfilePictureURL = %q", createdUser.ProfilePictureURL)
	}

	if session == nil || createdSession == nil {
		t.Fatal("expected session to be created")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(session.ID))
	}
	if session.UserID != "new-user-id" {
		t.Errorf("session userID = %q, want %q", session.UserID, "new-user-id")
	}
	wantExpiry := time.Now().Add(86400 * time.Second)
	if session.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || session.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about %v", session.ExpiresAt, wantExpiry)
	}
}

func TestHandleCallback_ExistingUser_UpdatesProfile(t *testing.T) {
	ctx := context.Background()

	var updated *model.User
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, providerID string) (*model.User, error) {
			return &model.User{ID: "existing-user-id", ProviderID: providerID, Name: "Old Name", Email: "alice@example.com"}, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			t.Error("Create should not be called for an existing user")
			return nil
		},
		updateProfileFn: func(ctx context.Context, user *model.User) error {
			updated = user
			return nil
		},
	}

	svc := NewService(aliceProvider(), userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 3600})

	session, err := svc.HandleCallback(ctx, "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "existing-user-id" {
		t.Errorf("session userID = %q, want %q", session.UserID, "existing-user-id")
	}
	if updated == nil {
		t.Fatal("expected profile to be updated")
	}
	if updated.Name != "Alice" || updated.ProfilePictureURL != "https://example.com/alice.png" {
		t.Errorf("profile not overwritten: %+v", updated)
	}
}

func TestHandleCallback_ExistingUser_UnchangedProfileSkipsUpdate(t *testing.T) {
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, providerID string) (*model.User, error) {
			return &model.User{
				ID: "u1", ProviderID: providerID, Name: "Alice",
				Email: "alice@example.com", ProfilePictureURL: "https://example.com/alice.png",
			}, nil
		},
		updateProfileFn: func(ctx context.Context, user *model.User) error {
			t.Error("UpdateProfile should not be called when nothing changed")
			return nil
		},
	}

	svc := NewService(aliceProvider(), userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 3600})
	if _, err := svc.HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
}

func TestHandleCallback_ConcurrentFirstLogin_UsesExistingUser(t *testing.T) {
	calls := 0
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, providerID string) (*model.User, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return &model.User{ID: "winner-id", ProviderID: providerID, Name: "Alice",
				Email: "alice@example.com", ProfilePictureURL: "https://example.com/alice.png"}, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			return repository.ErrDuplicate
		},
	}

	svc := NewService(aliceProvider(), userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 3600})
	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if session.UserID != "winner-id" {
		t.Errorf("session userID = %q, want winner-id", session.UserID)
	}
}

func TestHandleCallback_OAuthError_ReturnsError(t *testing.T) {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("invalid code")
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			t.Error("session must not be created when the assertion is rejected")
			return nil
		},
	}

	svc := NewService(provider, &mockUserRepo{}, sessionRepo, ServiceConfig{SessionMaxAge: 86400})
	if _, err := svc.HandleCallback(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error for OAuth failure")
	}
}

func TestHandleCallback_UserCreationError_ReturnsError(t *testing.T) {
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			return errors.New("database error")
		},
	}

	svc := NewService(aliceProvider(), userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})
	if _, err := svc.HandleCallback(context.Background(), "code"); err == nil {
		t.Fatal("expected error for user creation failure")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	var deletedID string
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedID = id
			return nil
		},
	}

	svc := NewService(&mockOAuthProvider{}, &mockUserRepo{}, sessionRepo, ServiceConfig{})
	if err := svc.Logout(context.Background(), "session-to-delete"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deletedID != "session-to-delete" {
		t.Errorf("deleted session = %q", deletedID)
	}
}

func TestLogout_EmptySessionID_Succeeds(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("DeleteByID should not be called without a session")
			return nil
		},
	}

	svc := NewService(&mockOAuthProvider{}, &mockUserRepo{}, sessionRepo, ServiceConfig{})
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Errorf("Logout() error = %v, want nil", err)
	}
}

func TestLogout_StoreError_ReturnsError(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			return errors.New("connection reset")
		},
	}

	svc := NewService(&mockOAuthProvider{}, &mockUserRepo{}, sessionRepo, ServiceConfig{})
	if err := svc.Logout(context.Background(), "sid"); err == nil {
		t.Fatal("expected error when session destruction fails")
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Name: "Alice", LikedCommentIDs: []string{"c1"}}, nil
		},
	}

	svc := NewService(&mockOAuthProvider{}, userRepo, sessionRepo, ServiceConfig{})
	user, err := svc.GetCurrentUser(context.Background(), "valid-session")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != "user-1" || !user.HasLiked("c1") {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestGetCurrentUser_Unauthenticated(t *testing.T) {
	tests := []struct {
		name        string
		sessionID   string
		session     *model.Session
		user        *model.User
		userLookErr error
	}{
		{name: "セッションIDなし", sessionID: ""},
		{name: "期限切れまたは存在しない", sessionID: "expired"},
		{name: "ユーザー削除済み", sessionID: "orphan", session: &model.Session{UserID: "gone"}},
		{name: "ユーザーID不正", sessionID: "bad", session: &model.Session{UserID: "x"}, userLookErr: repository.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionRepo := &mockSessionRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return tt.session, nil
				},
			}
			userRepo := &mockUserRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
					return tt.user, tt.userLookErr
				},
			}

			svc := NewService(&mockOAuthProvider{}, userRepo, sessionRepo, ServiceConfig{})
			_, err := svc.GetCurrentUser(context.Background(), tt.sessionID)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthenticated {
				t.Errorf("expected UNAUTHENTICATED, got %v", err)
			}
		})
	}
}

func TestGetCurrentUser_StoreError_IsNotUnauthenticated(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("db down")
		},
	}

	svc := NewService(&mockOAuthProvider{}, &mockUserRepo{}, sessionRepo, ServiceConfig{})
	_, err := svc.GetCurrentUser(context.Background(), "sid")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure should not map to an APIError, got %v", apiErr)
	}
}
