package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/user"
)

var cliRoles = map[string][]string{
	"admin":   {user.RoleAdminOwner},
	"creator": {user.RoleCreator},
	"learner": {user.RoleLearner},
}

// addUser updates or creates an active user.User with the given role.
func (cli *commandLine) addUser(name, uname, email, pwd, role string) error {
	roles, ok := cliRoles[role]
	if !ok {
		return fmt.Errorf("%q: unknown role", role)
	}

	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	usr, err := cli.findUser(ctx, uname, email)
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	isNew := err != nil

	now := core.Now()
	active := true
	if isNew {
		usr = user.User{Username: uname, Email: email, CreatedAt: now}
	}
	if name != "" {
		usr.Name = name
	}
	if usr.Name == "" {
		usr.Name = uname
	}
	usr.Roles = roles
	usr.IsActive = &active
	usr.UpdatedAt = now
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	if isNew {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.output(), "user %q saved with role %s\n", usr.Username, role)
	return nil
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if errors.Cause(err) == user.ErrNotFound {
		return cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	}
	return usr, err
}
