// Package model はドメインモデルを定義する。
package model

import "time"

// User は外部IdPでログインした掲示板ユーザーを表す。
// LikedCommentIDs は保存値ではなく、いいね関係から読み出し時に導出される。
type User struct {
	ID                string
	ProviderID        string
	Name              string
	Email             string
	ProfilePictureURL string
	LikedCommentIDs   []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasLiked は指定コメントにいいね済みかどうかを返す。
func (u *User) HasLiked(commentID string) bool {
	for _, id := range u.LikedCommentIDs {
		if id == commentID {
			return true
		}
	}
	return false
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
