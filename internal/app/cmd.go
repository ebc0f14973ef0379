package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hitoshi/commentboard/internal/logger"
	"github.com/hitoshi/commentboard/internal/view"
	"github.com/spf13/cobra"
)

const (
	defaultServerURL = "http://localhost:8080"
	envServerURL     = "COMMENTBOARD_SERVER"
	envSession       = "COMMENTBOARD_SESSION"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンド省略時はserveとして起動する。
func Run(w io.Writer, args []string) error {
	cmd := NewRootCommand(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// NewRootCommand はcommentboardのルートコマンドを生成する。
func NewRootCommand(w io.Writer) *cobra.Command {
	if w == nil {
		w = os.Stdout
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting application",
			slog.String("command", "serve"),
			slog.String("port", cfg.ServerPort),
			slog.String("base_url", cfg.BaseURL),
		)
		return runServe(cmd.Context(), cfg)
	}

	root := &cobra.Command{
		Use:           "commentboard",
		Short:         "Community comment board",
		Long:          "Google OAuthでログインしてコメントの投稿・いいね・返信・削除ができる掲示板サーバーとCLIクライアント。",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.SetOut(w)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API server",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply PostgreSQL migrations or ensure MongoDB indexes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := Init(w)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runMigrate(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete expired sessions once and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := Init(w)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runCleanup(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
			Use:   "healthcheck",
			Short: "Check the local server's /health endpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck(cmd.Context(), "http://localhost:"+port)
			},
		},
		newBoardCommand(),
	)

	return root
}

// boardOptions はboardサブコマンド共通のフラグ。
type boardOptions struct {
	server  string
	session string
}

func newBoardCommand() *cobra.Command {
	opts := &boardOptions{}

	cmd := &cobra.Command{
		Use:   "board",
		Short: "Browse and post to a running comment board",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr(envServerURL, defaultServerURL), "server base URL ($"+envServerURL+")")
	cmd.PersistentFlags().StringVar(&opts.session, "session", os.Getenv(envSession), "session token ($"+envSession+")")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show all comments",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withBoard(cmd, opts, func(context.Context, *view.Board) error { return nil })
			},
		},
		&cobra.Command{
			Use:   "login [session-token]",
			Short: "Print the login URL, or complete login with a session token",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBoardLogin(cmd, opts, args)
			},
		},
		&cobra.Command{
			Use:   "post <text>",
			Short: "Post a comment",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withBoard(cmd, opts, func(ctx context.Context, b *view.Board) error {
					_, err := b.Post(ctx, strings.Join(args, " "))
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "like <comment-id>",
			Short: "Like or unlike a comment",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withBoard(cmd, opts, func(ctx context.Context, b *view.Board) error {
					_, err := b.Like(ctx, args[0])
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "reply <comment-id> <text>",
			Short: "Reply to a comment",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withBoard(cmd, opts, func(ctx context.Context, b *view.Board) error {
					return b.Reply(ctx, args[0], strings.Join(args[1:], " "))
				})
			},
		},
		&cobra.Command{
			Use:   "delete <comment-id>",
			Short: "Delete your own comment",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withBoard(cmd, opts, func(ctx context.Context, b *view.Board) error {
					return b.Delete(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Log out and discard the session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withBoard(cmd, opts, func(ctx context.Context, b *view.Board) error {
					return b.Logout(ctx)
				})
			},
		},
	)

	return cmd
}

// newBoard はクライアントとボードを生成する。
func newBoard(cmd *cobra.Command, opts *boardOptions) (*view.Client, *view.Board, error) {
	client, err := view.NewClient(opts.server, nil)
	if err != nil {
		return nil, nil, err
	}
	if opts.session != "" {
		client.SetSession(opts.session)
	}
	board := view.NewBoard(client, logger.Setup(cmd.ErrOrStderr(), slog.LevelWarn))
	return client, board, nil
}

// withBoard はボードを読み込んで操作を1回実行し、結果を表示する。
// 操作が失敗しても読み込み済みの状態は表示する。
func withBoard(cmd *cobra.Command, opts *boardOptions, action func(context.Context, *view.Board) error) error {
	_, board, err := newBoard(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := board.Load(ctx); err != nil {
		return err
	}

	actionErr := action(ctx, board)
	if err := view.Render(cmd.OutOrStdout(), board); err != nil {
		return err
	}
	return actionErr
}

func runBoardLogin(cmd *cobra.Command, opts *boardOptions, args []string) error {
	client, board, err := newBoard(cmd, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	loginURL := board.BeginLogin()
	if len(args) == 0 {
		fmt.Fprintf(out, "Open this URL in a browser to sign in:\n  %s\n", loginURL)
		fmt.Fprintf(out, "Then run: commentboard board login <value of the %q cookie>\n", "session_id")
		return nil
	}

	if err := board.CompleteLogin(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	user := board.User()
	fmt.Fprintf(out, "Signed in as %s <%s>\n", user.Name, user.Email)
	fmt.Fprintf(out, "export %s=%s\n", envSession, client.Session())
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
