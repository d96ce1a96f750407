package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。ワークスペースの回収と期限切れセッションの削除も行う。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの削除のみを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate は認証テーブルとドキュメントテーブルのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
