package logsvc

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/user"
)

const stdFlags = log.LstdFlags | log.Lmicroseconds | log.Lshortfile

// RollbarLogger prints to a std logger and reports to Rollbar when enabled.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

// NewStdoutLogger returns a RollbarLogger printing to stdout with the given prefix (e.g. "API : ").
// Rollbar reporting is enabled outside of debug & test mode.
func NewStdoutLogger(prefix string, conf *core.Config) *RollbarLogger {
	l := NewRollbarLogger(log.New(os.Stdout, prefix, stdFlags), conf)
	l.Enable(!(conf.Debug || conf.TestMode))
	return l
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger(conf *core.Config) *RollbarLogger {
	l := NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	l.Enable(false)
	return l
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		case *user.User:
			if !usrSet && a != nil {
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		default:
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Output(3, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User, *user.User:
			continue
		case map[string]interface{}:
			l.std.Output(3, formatExtras(a))
		default:
			l.std.Output(3, fmt.Sprintf("%+v", a))
		}
	}
}

// formatExtras prints extras as sorted key=value pairs.
func formatExtras(extras map[string]interface{}) string {
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, extras[k]))
	}
	return strings.Join(pairs, " ")
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(msg, args)
	rollbar.Wait()
	os.Exit(1)
}
