package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func cloneUser(usr user.User) user.User {
	usr.Roles = cloneStrings(usr.Roles)
	if usr.PasswordHash != nil {
		usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	}
	if usr.IsActive != nil {
		active := *usr.IsActive
		usr.IsActive = &active
	}
	return usr
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	excluded := make(map[string]struct{}, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = struct{}{}
	}
	for _, usr := range repo.db.users {
		if _, ok := excluded[usr.ID]; ok {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, u := range repo.db.users {
		if usr.Username != "" && u.Username == usr.Username {
			return user.User{}, user.ErrUsernameExists
		}
		if usr.Email != "" && u.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	usr.ID = uuid.NewString()
	usr = cloneUser(usr)
	repo.db.users[usr.ID] = &usr
	return cloneUser(usr), nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if matchUser(*usr, filter) {
			users = append(users, cloneUser(*usr))
		}
	}

	orderBy(users, ordering, core.DBOrdering{Field: "created_at"}, func(a, b user.User, column string) int {
		switch column {
		case "name":
			return cmpStrings(a.Name, b.Name)
		case "username":
			return cmpStrings(a.Username, b.Username)
		case "email":
			return cmpStrings(a.Email, b.Email)
		case "last_login":
			return cmpTimes(a.LastLogin, b.LastLogin)
		case "created_at":
			return cmpTimes(a.CreatedAt, b.CreatedAt)
		}
		return 0
	})
	return paginate(users, page), nil
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" &&
		!containsFold(usr.Name, filter.Search) && !containsFold(usr.Username, filter.Search) && !containsFold(usr.Email, filter.Search) {
		return false
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, role := range filter.Roles {
			for _, r := range usr.Roles {
				if len(r) >= len(role) && cmpStrings(r[:len(role)], role) == 0 {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.Active() != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.users[filter.ID]; ok {
			return cloneUser(*usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.users {
		switch {
		case filter.Username != "":
			if usr.Username == filter.Username {
				return cloneUser(*usr), nil
			}
		case filter.Email != "":
			if usr.Email == filter.Email {
				return cloneUser(*usr), nil
			}
		case filter.UsernameOrEmail != "":
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return cloneUser(*usr), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	usr = cloneUser(usr)
	repo.db.users[usr.ID] = &usr
	return cloneUser(usr), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, id := range ids {
		delete(repo.db.users, id)
		repo.db.deleteOwnedBy(id)
	}
	return nil
}

// deleteOwnedBy cascades the deletion of a user. The caller holds the write lock.
func (db *DB) deleteOwnedBy(userID string) {
	for id, doc := range db.documents {
		if doc.OwnerID == userID {
			db.deleteDocument(id)
		}
	}
	for id, c := range db.courses {
		if c.OwnerID == userID {
			db.deleteCourse(id)
		}
	}
	for id, e := range db.enrollments {
		if e.UserID == userID {
			db.deleteEnrollment(id)
		}
	}
	for id, job := range db.jobs {
		if job.OwnerID == userID {
			delete(db.jobs, id)
		}
	}
}
