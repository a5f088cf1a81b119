package auth

import (
	"context"
	"log/slog"
)

// Mailer はマジックリンクの送信インターフェース。
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// LogMailer はリンクをログに出力するだけのMailer。
// 開発環境やメール送信基盤が未設定の環境で使用する。
type LogMailer struct{}

// SendMagicLink はサインインリンクをINFOレベルでログに出力する。
func (LogMailer) SendMagicLink(_ context.Context, email, link string) error {
	slog.Info("magic link issued",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}

// compile-time interface check
var _ Mailer = LogMailer{}
