package model

import "time"

// Comment は掲示板のトップレベルコメントを表す。
// Text と AuthorName は作成後に変更されない。Replies は追記のみ。
type Comment struct {
	ID           string
	Text         string
	Likes        int
	Replies      []string
	AuthorUserID string
	AuthorName   string
	CreatedAt    time.Time
}

// LikeResult はいいねトグルの結果を表す。
type LikeResult struct {
	CommentID string
	Liked     bool
	Likes     int
}
