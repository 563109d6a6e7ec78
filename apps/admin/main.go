package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
	logsvc "github.com/rpconcours/concours/services/logger"
	"github.com/rpconcours/concours/storage/database"
	sqlxrepos "github.com/rpconcours/concours/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(false)

	if conf.Database.Engine != core.EnginePostgres {
		logger.Fatal(fmt.Sprintf("unsupported database engine %q", conf.Database.Engine))
	}

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up validation
	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)

	// start CLI
	cli := commandLine{
		db:       db,
		usrSvc:   user.NewService(sqlxrepos.NewUserRepository(db)),
		validate: validate,
		logger:   logger,
	}
	code := 0
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		code = 1
	}
	closeDB(db, logger)
	os.Exit(code)
}

func closeDB(db *sqlx.DB, logger core.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn(fmt.Sprintf("closing database: %v", err), err)
	}
}
