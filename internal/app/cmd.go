package app

import (
	"flag"
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを削除するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCreateUser はログイン可能なユーザーを作成することを示す。
	CommandCreateUser Command = "createuser"
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
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "createuser":
		return CommandCreateUser
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はmigrateサブコマンドの動作。
type MigrateDirection string

const (
	MigrateUp      MigrateDirection = "up"
	MigrateDown    MigrateDirection = "down"
	MigrateVersion MigrateDirection = "version"
)

// ParseMigrateDirection は "migrate [up|down|version]" の引数を解析する。
// 省略時はup。
func ParseMigrateDirection(args []string) (MigrateDirection, error) {
	if len(args) < 2 {
		return MigrateUp, nil
	}
	switch d := MigrateDirection(args[1]); d {
	case MigrateUp, MigrateDown, MigrateVersion:
		return d, nil
	default:
		return "", fmt.Errorf("unknown migrate direction %q (want up, down or version)", args[1])
	}
}

// CreateUserOptions はcreateuserサブコマンドのオプション。
type CreateUserOptions struct {
	Username      string
	PasswordStdin bool
	Update        bool
	Activate      bool
	Deactivate    bool
}

// ChangesStatus は有効・無効の切り替えのみを行う指定かどうかを返す。
func (o CreateUserOptions) ChangesStatus() bool {
	return o.Activate || o.Deactivate
}

// ParseCreateUserArgs は "createuser -username NAME [-password-stdin] [-update]" を解析する。
// パスワードは標準入力またはDASHBOARD_PASSWORD環境変数から受け取る。
// -activate / -deactivate を指定した場合はパスワードを扱わず、既存ユーザーの状態のみ変更する。
func ParseCreateUserArgs(args []string, output io.Writer) (CreateUserOptions, error) {
	var opts CreateUserOptions

	fs := flag.NewFlagSet(string(CommandCreateUser), flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.Username, "username", "", "login name of the user")
	fs.BoolVar(&opts.PasswordStdin, "password-stdin", false, "read the password from the first line of stdin")
	fs.BoolVar(&opts.Update, "update", false, "replace the password of an existing user")
	fs.BoolVar(&opts.Activate, "activate", false, "allow an existing user to log in again")
	fs.BoolVar(&opts.Deactivate, "deactivate", false, "prevent an existing user from logging in")

	if len(args) > 0 {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return CreateUserOptions{}, err
	}
	if opts.Username == "" {
		return CreateUserOptions{}, fmt.Errorf("-username is required")
	}
	if opts.Activate && opts.Deactivate {
		return CreateUserOptions{}, fmt.Errorf("-activate and -deactivate cannot be combined")
	}
	if opts.ChangesStatus() && (opts.Update || opts.PasswordStdin) {
		return CreateUserOptions{}, fmt.Errorf("-activate/-deactivate cannot be combined with password options")
	}
	return opts, nil
}
