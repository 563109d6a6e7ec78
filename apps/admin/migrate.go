package main

import (
	"github.com/rpconcours/concours/storage/database"
)

var gooseRunFunc = database.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(cli.db, args[0], args[1:]...)
}
