//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"groupchat/domain"
	"groupchat/errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const userPrefix = "user:"

// IUserRepository is the user directory the chat core reads from.
// Accounts themselves are managed elsewhere.
type IUserRepository interface {
	FindUser(username string) (domain.User, bool, error)
	SaveUser(user domain.User) error
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

type diskUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
}

// FindUser looks a profile up by username. A missing user is not an error.
func (u *UserRepository) FindUser(username string) (domain.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, false, nil
	}

	var du diskUser
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &du)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("%w: find user: %v", errors.ErrStoreUnavailable, err)
	}
	return toUser(du), true, nil
}

// SaveUser creates or replaces a profile. The display name defaults to the
// username and the status to "Hello!", as new accounts get them.
func (u *UserRepository) SaveUser(user domain.User) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		return errors.ErrMissingUsername
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	if user.Status == "" {
		user.Status = "Hello!"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(fromUser(user))
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return u.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userPrefix+user.Username), data)
	})
}

func fromUser(user domain.User) diskUser {
	return diskUser{
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Status:      user.Status,
		CreatedAt:   user.CreatedAt.Unix(),
	}
}

func toUser(du diskUser) domain.User {
	return domain.User{
		Username:    du.Username,
		DisplayName: du.DisplayName,
		AvatarURL:   du.AvatarURL,
		Status:      du.Status,
		CreatedAt:   time.Unix(du.CreatedAt, 0).UTC(),
	}
}
