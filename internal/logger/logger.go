package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level はSetupDefaultで生成したロガーのログレベル。
// 設定読み込み後にSetLevelで変更できる。
var level = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer, leveler slog.Leveler) *slog.Logger {
	if leveler == nil {
		leveler = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: leveler,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// SetLevel はグローバルロガーのログレベルを変更する。
// 未知の値はinfoとして扱う。
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel はログレベル名をslog.Levelに変換する。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
