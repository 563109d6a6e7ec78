package main

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
	inmemdb "github.com/rpconcours/concours/storage/database/inmem"
	testutil "github.com/rpconcours/concours/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	conf := core.NewTestConfig()
	usrRepo = inmemdb.NewUserRepository(inmemdb.Open())

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	return &commandLine{
		db:       sqlx.NewDb(nil, "postgres"), // never reached: migrations are mocked
		usrSvc:   user.NewService(usrRepo),
		validate: validate,
		logger:   testutil.NewLogger(conf),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "evaluation_comments", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}

	t.Run("no database", func(t *testing.T) {
		cli := setup(t)
		cli.db = nil
		assert.Equal(t, errNoDB, cli.run([]string{"admin", "migrate", "up"}))
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	existing := testutil.CreateUser(t, usrRepo, "Jean Martin", "jmartin", "jmartin@lspd.rp", "Passw0rd!", user.RoleCandidat, "", false)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "estone"}, extra: extra{pwd: "Tr0ub4dor&3x"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "estone", "-email", "estone@lspd.rp"}, wantErr: errHelp},
		{name: "weak password", args: []string{"adduser", "-username", "estone", "-email", "estone@lspd.rp"}, extra: extra{pwd: "short"}},
		{name: "invalid role", args: []string{"adduser", "-username", "estone", "-email", "estone@lspd.rp", "-role", "chef"}, extra: extra{pwd: "Tr0ub4dor&3x"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}

		t.Run(tt.name, func(t *testing.T) {
			mockPassword(pwd)
			err := cli.run(args)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
			} else {
				_, ok := err.(validator.ValidationErrors)
				assert.True(t, ok, "want validation errors; got %v", err)
			}
		})
	}

	t.Run("create admin", func(t *testing.T) {
		mockPassword("Tr0ub4dor&3x")
		require.NoError(t, cli.run([]string{"admin", "adduser", "-username", "EStone", "-email", "estone@lspd.rp", "-name", "Ella Stone"}))

		usr, err := usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "estone"})
		require.NoError(t, err)
		assert.Equal(t, user.RoleAdmin, usr.Role)
		assert.Equal(t, "Ella Stone", usr.FullName)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3x"))
	})

	t.Run("update existing", func(t *testing.T) {
		mockPassword("Tr0ub4dor&3x")
		require.NoError(t, cli.run([]string{"admin", "adduser", "-username", existing.Username, "-email", existing.Email, "-role", user.RoleResponsable}))

		usr, err := usrRepo.GetUser(ctx, user.GetFilter{ID: existing.ID})
		require.NoError(t, err)
		assert.Equal(t, user.RoleResponsable, usr.Role)
		assert.Equal(t, existing.FullName, usr.FullName)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3x"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.cd", "mdr", user.RoleResponsable, "", false)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.cd"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}

		t.Run(tt.name, func(t *testing.T) {
			mockPassword(pwd)
			err := cli.run(args)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.NoError(t, refreshedUsr.CheckPassword(pwd))
			assert.True(t, refreshedUsr.IsActive)
		})
	}
}
