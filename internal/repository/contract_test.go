package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/commentboard/internal/model"
)

// repos はバックエンドごとのリポジトリ一式。
type repos struct {
	users    UserRepository
	sessions SessionRepository
	comments CommentRepository
}

// runRepositoryContract は両バックエンドに共通する振る舞いを検証する。
func runRepositoryContract(t *testing.T, newRepos func(t *testing.T) repos) {
	ctx := context.Background()

	createUser := func(t *testing.T, r repos, providerID, name string) *model.User {
		t.Helper()
		u := &model.User{ProviderID: providerID, Name: name, Email: name + "@example.com"}
		if err := r.users.Create(ctx, u); err != nil {
			t.Fatalf("Create user: %v", err)
		}
		if u.ID == "" {
			t.Fatal("expected user ID to be assigned")
		}
		return u
	}

	createComment := func(t *testing.T, r repos, author *model.User, text string) *model.Comment {
		t.Helper()
		c := &model.Comment{Text: text, AuthorUserID: author.ID, AuthorName: author.Name}
		if err := r.comments.Create(ctx, c); err != nil {
			t.Fatalf("Create comment: %v", err)
		}
		return c
	}

	t.Run("ユーザー作成と重複", func(t *testing.T) {
		r := newRepos(t)
		u := createUser(t, r, "google-1", "Alice")

		dup := &model.User{ProviderID: "google-1", Name: "Other"}
		if err := r.users.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}

		found, err := r.users.FindByProviderID(ctx, "google-1")
		if err != nil || found == nil {
			t.Fatalf("FindByProviderID: %v, %v", found, err)
		}
		if found.ID != u.ID {
			t.Errorf("ID = %q, want %q", found.ID, u.ID)
		}

		missing, err := r.users.FindByProviderID(ctx, "google-unknown")
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil for unknown provider id; got %v, %v", missing, err)
		}
	})

	t.Run("プロフィール更新", func(t *testing.T) {
		r := newRepos(t)
		u := createUser(t, r, "google-2", "Bob")

		u.Name = "Bobby"
		u.ProfilePictureURL = "https://example.com/bob.png"
		if err := r.users.UpdateProfile(ctx, u); err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}

		found, err := r.users.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if found.Name != "Bobby" || found.ProfilePictureURL != "https://example.com/bob.png" {
			t.Errorf("profile not updated: %+v", found)
		}
	})

	t.Run("不正なIDはErrInvalidID", func(t *testing.T) {
		r := newRepos(t)
		if _, err := r.comments.FindByID(ctx, "not-an-id"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("FindByID: expected ErrInvalidID, got %v", err)
		}
		if _, err := r.comments.Delete(ctx, "not-an-id"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Delete: expected ErrInvalidID, got %v", err)
		}
		if _, err := r.comments.AppendReply(ctx, "not-an-id", "x"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("AppendReply: expected ErrInvalidID, got %v", err)
		}
		if _, err := r.users.FindByID(ctx, "not-an-id"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("users.FindByID: expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("一覧は新しい順", func(t *testing.T) {
		r := newRepos(t)
		u := createUser(t, r, "google-3", "Carol")
		first := createComment(t, r, u, "first")
		time.Sleep(5 * time.Millisecond)
		second := createComment(t, r, u, "second")

		list, err := r.comments.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
		if list[0].ID != second.ID || list[1].ID != first.ID {
			t.Errorf("order = [%s %s], want [%s %s]", list[0].Text, list[1].Text, "second", "first")
		}
		if list[0].Likes != 0 || len(list[0].Replies) != 0 {
			t.Errorf("new comment should have no likes/replies: %+v", list[0])
		}
		if list[0].AuthorName != "Carol" || list[0].AuthorUserID != u.ID {
			t.Errorf("author not denormalized: %+v", list[0])
		}
	})

	t.Run("返信は末尾に追加される", func(t *testing.T) {
		r := newRepos(t)
		u := createUser(t, r, "google-4", "Dave")
		c := createComment(t, r, u, "hello")

		if _, err := r.comments.AppendReply(ctx, c.ID, "r1"); err != nil {
			t.Fatalf("AppendReply: %v", err)
		}
		updated, err := r.comments.AppendReply(ctx, c.ID, "r2")
		if err != nil {
			t.Fatalf("AppendReply: %v", err)
		}
		if len(updated.Replies) != 2 || updated.Replies[0] != "r1" || updated.Replies[1] != "r2" {
			t.Errorf("Replies = %v, want [r1 r2]", updated.Replies)
		}
		if updated.Text != "hello" {
			t.Errorf("Text changed: %q", updated.Text)
		}
	})

	t.Run("いいねトグルといいね集合の一致", func(t *testing.T) {
		r := newRepos(t)
		a := createUser(t, r, "google-5", "A")
		b := createUser(t, r, "google-6", "B")
		c := createComment(t, r, a, "likeable")

		res, err := r.comments.ToggleLike(ctx, b.ID, c.ID)
		if err != nil {
			t.Fatalf("ToggleLike: %v", err)
		}
		if !res.Liked || res.Likes != 1 {
			t.Errorf("first toggle = %+v, want liked with 1", res)
		}

		bUser, _ := r.users.FindByID(ctx, b.ID)
		if !bUser.HasLiked(c.ID) {
			t.Errorf("LikedCommentIDs = %v, want to contain %s", bUser.LikedCommentIDs, c.ID)
		}

		res, err = r.comments.ToggleLike(ctx, b.ID, c.ID)
		if err != nil {
			t.Fatalf("ToggleLike: %v", err)
		}
		if res.Liked || res.Likes != 0 {
			t.Errorf("second toggle = %+v, want unliked with 0", res)
		}

		liked, err := r.comments.LikedCommentIDs(ctx, b.ID)
		if err != nil {
			t.Fatalf("LikedCommentIDs: %v", err)
		}
		if len(liked) != 0 {
			t.Errorf("LikedCommentIDs = %v, want empty", liked)
		}
	})

	t.Run("並行トグルでもいいね数は集合と一致する", func(t *testing.T) {
		r := newRepos(t)
		author := createUser(t, r, "google-7", "Author")
		c := createComment(t, r, author, "popular")

		var likers []*model.User
		for i := 0; i < 5; i++ {
			likers = append(likers, createUser(t, r, "google-liker-"+string(rune('a'+i)), "L"))
		}

		var wg sync.WaitGroup
		for _, u := range likers {
			// 各ユーザーが3回トグルする（最終的にいいね状態）
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func(uid string) {
					defer wg.Done()
					if _, err := r.comments.ToggleLike(ctx, uid, c.ID); err != nil {
						t.Errorf("ToggleLike: %v", err)
					}
				}(u.ID)
			}
		}
		wg.Wait()

		got, err := r.comments.FindByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		likedCount := 0
		for _, u := range likers {
			ids, err := r.comments.LikedCommentIDs(ctx, u.ID)
			if err != nil {
				t.Fatalf("LikedCommentIDs: %v", err)
			}
			if len(ids) == 1 {
				likedCount++
			}
		}
		if got.Likes != likedCount {
			t.Errorf("Likes = %d, but %d users have liked", got.Likes, likedCount)
		}
		if likedCount != len(likers) {
			t.Errorf("likedCount = %d, want %d", likedCount, len(likers))
		}
	})

	t.Run("削除でいいね関係も消える", func(t *testing.T) {
		r := newRepos(t)
		a := createUser(t, r, "google-8", "A")
		c := createComment(t, r, a, "bye")
		if _, err := r.comments.ToggleLike(ctx, a.ID, c.ID); err != nil {
			t.Fatalf("ToggleLike: %v", err)
		}

		deleted, err := r.comments.Delete(ctx, c.ID)
		if err != nil || !deleted {
			t.Fatalf("Delete: %v, %v", deleted, err)
		}
		deleted, err = r.comments.Delete(ctx, c.ID)
		if err != nil || deleted {
			t.Errorf("second Delete = %v, %v; want false, nil", deleted, err)
		}

		liked, _ := r.comments.LikedCommentIDs(ctx, a.ID)
		if len(liked) != 0 {
			t.Errorf("LikedCommentIDs after delete = %v", liked)
		}
		res, err := r.comments.ToggleLike(ctx, a.ID, c.ID)
		if err != nil || res != nil {
			t.Errorf("ToggleLike on deleted = %v, %v; want nil, nil", res, err)
		}
		reply, err := r.comments.AppendReply(ctx, c.ID, "late")
		if err != nil || reply != nil {
			t.Errorf("AppendReply on deleted = %v, %v; want nil, nil", reply, err)
		}
	})

	t.Run("セッションの有効期限", func(t *testing.T) {
		r := newRepos(t)
		u := createUser(t, r, "google-9", "S")
		now := time.Now()

		active := &model.Session{ID: "active-session", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		expired := &model.Session{ID: "expired-session", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}
		for _, s := range []*model.Session{active, expired} {
			if err := r.sessions.Create(ctx, s); err != nil {
				t.Fatalf("Create session: %v", err)
			}
		}

		if s, err := r.sessions.FindByID(ctx, "active-session"); err != nil || s == nil || s.UserID != u.ID {
			t.Errorf("FindByID(active) = %+v, %v", s, err)
		}
		if s, err := r.sessions.FindByID(ctx, "expired-session"); err != nil || s != nil {
			t.Errorf("FindByID(expired) = %+v, %v; want nil, nil", s, err)
		}

		n, err := r.sessions.DeleteExpired(ctx)
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n < 1 {
			t.Errorf("DeleteExpired = %d, want >= 1", n)
		}

		if err := r.sessions.DeleteByID(ctx, "active-session"); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		if err := r.sessions.DeleteByID(ctx, "active-session"); err != nil {
			t.Errorf("DeleteByID should be idempotent: %v", err)
		}
		if s, _ := r.sessions.FindByID(ctx, "active-session"); s != nil {
			t.Error("session should be gone after DeleteByID")
		}
	})
}
