// momentum はマーケティングサイトと成果物ダッシュボードを提供するサーバー。
//
// 使い方:
//
//	momentum [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/momentum/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "momentum: %v\n", err)
		os.Exit(1)
	}
}
