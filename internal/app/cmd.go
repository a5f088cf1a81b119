package app

import (
	"fmt"
	"strings"
)

// Command はmomentumバイナリのサブコマンド。
type Command string

const (
	// CommandServe はマーケティングサイト・ダッシュボード・APIを配信する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションとマジックリンクを定期的に削除する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のserveの /health を確認する。
	// distrolessイメージのDocker HEALTHCHECKから呼ばれるため、設定を読み込まない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はserveとし、2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (usage: momentum [%s])", args[0], usage())
}

func usage() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, "|")
}
