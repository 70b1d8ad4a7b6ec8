// chatfront はチャットアプリのフロントエンドホスト。
//
// 使い方:
//
//	chatfront [serve|migrate|reset-session|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/chatfront/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatfront: %v\n", err)
		os.Exit(1)
	}
}
