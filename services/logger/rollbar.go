package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/candidate"
	"github.com/rpconcours/concours/core/user"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a std logger.
// Debug entries are dropped unless the app runs in debug mode.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	return &RollbarLogger{std: std, debug: conf.Debug}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// person returns the Rollbar person of a logged-in user or of a candidate taking a contest.
func person(arg interface{}) (id, name, email string, ok bool) {
	switch p := arg.(type) {
	case user.User:
		return p.ID, p.Username, p.Email, true
	case candidate.Candidate:
		return p.ID, p.Identifier, p.Email, true
	}
	return "", "", "", false
}

// expected fmt: msg | error, map[string]interface{}, user.User | candidate.Candidate
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var personSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		id, name, email, ok := person(arg)
		if !ok {
			newArgs = append(newArgs, arg)
			continue
		}
		if !personSet { // only set one person
			rollbar.SetPerson(id, name, email)
			personSet = true
		}
	}
	if !personSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	rollbar.Log(level, l.prepare(msg, args)...)
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range args {
		if _, _, _, ok := person(arg); ok {
			continue
		}
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		l.log(rollbar.DEBUG, msg, args)
	}
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.log(rollbar.INFO, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log(rollbar.WARN, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.log(rollbar.ERR, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
