package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はループバックホストを常駐させることを示す。
	CommandServe Command = "serve"
	// CommandSignInGoogle はGoogleサインインを1回実行することを示す。
	CommandSignInGoogle Command = "signin-google"
	// CommandSignInApple はAppleサインインを1回実行することを示す。
	CommandSignInApple Command = "signin-apple"
	// CommandSignOut はサインアウトを実行することを示す。
	CommandSignOut Command = "signout"
	// CommandStatus は現在の認証状態を表示することを示す。
	CommandStatus Command = "status"
	// CommandComplete はカスタムスキームで受け取ったコールバックURLを
	// 起動中のホストへ中継することを示す。
	CommandComplete Command = "complete"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandSignInGoogle, CommandSignInApple, CommandSignOut,
		CommandStatus, CommandComplete, CommandMigrate, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
