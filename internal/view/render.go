package view

import (
	"fmt"
	"io"
	"strings"
)

const timeLayout = "2006-01-02 15:04"

// Render はボードの内容をテキストで書き出す。
// 返信は新しい順に並べ、削除マーカーは閲覧者自身のコメントにだけ付ける。
func Render(w io.Writer, b *Board) error {
	var sb strings.Builder

	user := b.User()
	switch b.State() {
	case StateAuthenticated:
		fmt.Fprintf(&sb, "Signed in as %s <%s>\n", user.Name, user.Email)
	case StateAuthenticating:
		sb.WriteString("Signing in...\n")
	default:
		sb.WriteString("Not signed in\n")
	}
	sb.WriteString("\n")

	comments := b.Comments()
	if len(comments) == 0 {
		sb.WriteString("No comments yet.\n")
	}

	for i, c := range comments {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s] %s - %s\n", c.ID, c.Username, c.CreatedAt.UTC().Format(timeLayout))
		fmt.Fprintf(&sb, "  %s\n", c.Text)

		fmt.Fprintf(&sb, "  likes: %d", c.Likes)
		if b.HasLiked(c.ID) {
			sb.WriteString(" (liked)")
		}
		if user != nil && c.UserID == user.ID {
			sb.WriteString("  [delete]")
		}
		sb.WriteString("\n")

		for j := len(c.Replies) - 1; j >= 0; j-- {
			fmt.Fprintf(&sb, "    > %s\n", c.Replies[j])
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
