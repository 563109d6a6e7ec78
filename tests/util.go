package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
	logsvc "github.com/rpconcours/concours/services/logger"
)

// NewLogger returns a silent logger.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(ioutil.Discard, "", 0), conf)
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role, academyRole string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if role == "" {
		role = user.RoleCandidat
	}
	usr := user.User{
		FullName:    name,
		Username:    uname,
		Email:       email,
		Role:        role,
		AcademyRole: academyRole,
		IsActive:    isActive,
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
