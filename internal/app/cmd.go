package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はフロントエンドホストのHTTPサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はセッションストア用のデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandResetSession は保存済みのセッションを破棄して終了することを示す。
	// IdPへのログアウトは行わない。
	CommandResetSession Command = "reset-session"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "reset-session":
		return CommandResetSession
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
