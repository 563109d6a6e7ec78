package main

import (
	"context"

	"github.com/rpconcours/concours/core/user"
)

// addUser creates the user, or updates & reactivates it when the username already exists.
// Both paths go through the API validation rules, password policy included.
func (cli *commandLine) addUser(name, uname, email, role, pwd string) (user.User, error) {
	ctx := context.Background()

	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	switch {
	case err == user.ErrNotFound:
		nu := user.NewUser{
			Username:        uname,
			Email:           email,
			FullName:        name,
			Password:        pwd,
			PasswordConfirm: pwd,
			Role:            role,
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return user.User{}, err
		}
		return cli.usrSvc.Create(ctx, nu)
	case err != nil:
		return user.User{}, err
	}

	active := true
	uu := user.UpdateUser{
		FullName:        name,
		Username:        uname,
		Email:           email,
		Role:            role,
		IsActive:        &active,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if err = uu.Validate(ctx, usr, cli.validate, cli.usrSvc); err != nil {
		return user.User{}, err
	}
	return cli.usrSvc.Update(ctx, usr, uu)
}
