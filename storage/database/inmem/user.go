package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/rpconcours/concours/core"
	"github.com/rpconcours/concours/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.users))
	for _, u := range repo.db.users {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query() {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if usr.Username == username {
			return user.ErrUsernameExists
		}
		if usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr.ID = newID()
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if filter != nil {
			if filter.Search != "" {
				s := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(usr.FullName), s) &&
					!strings.Contains(usr.Username, s) &&
					!strings.Contains(usr.Email, s) {
					continue
				}
			}
			if filter.Role != "" && usr.Role != filter.Role {
				continue
			}
			if filter.AcademyRole != "" && usr.AcademyRole != filter.AcademyRole {
				continue
			}
			if filter.AcademyID != "" && usr.AcademyID != filter.AcademyID {
				continue
			}
			if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
				continue
			}
		}
		users = append(users, usr)
	}

	sort.Slice(users, func(i, j int) bool {
		for _, ord := range ordering {
			var a, b string
			switch ord.Field {
			case "username":
				a, b = users[i].Username, users[j].Username
			case "email":
				a, b = users[i].Email, users[j].Email
			case "full_name":
				a, b = users[i].FullName, users[j].FullName
			case "role":
				a, b = users[i].Role, users[j].Role
			case "created_at":
				if users[i].CreatedAt.Equal(users[j].CreatedAt) {
					continue
				}
				return users[i].CreatedAt.Before(users[j].CreatedAt) == ord.Ascending
			default:
				continue
			}
			if a != b {
				return (a < b) == ord.Ascending
			}
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.users[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.UsernameOrEmail != "" {
		for _, usr := range repo.db.users {
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return *usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, id := range ids {
		delete(repo.db.users, id)
		for mID, m := range repo.db.members {
			if m.UserID == id {
				delete(repo.db.members, mID)
			}
		}
		for _, c := range repo.db.candidates {
			if c.UserID == id {
				c.UserID = ""
			}
		}
	}
	return nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, u := range excludedUsers {
		if u.ID == usr.ID {
			return true
		}
	}
	return false
}
