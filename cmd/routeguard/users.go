package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// errInvalidCredentials covers both unknown accounts and wrong passwords so
// responses never reveal whether an account exists.
var errInvalidCredentials = errors.New("invalid credentials")

// user is a seeded account.
type user struct {
	ID           string
	Email        string
	Role         string
	PasswordHash []byte
}

// userStore is an in-memory account registry with bcrypt password checks.
type userStore struct {
	mu      sync.RWMutex
	byEmail map[string]*user
}

func newUserStore() *userStore {
	return &userStore{byEmail: make(map[string]*user)}
}

// add registers a user, assigning an ID when missing.
func (s *userStore) add(u *user) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[strings.ToLower(u.Email)] = u
}

// authenticate verifies the password for the given email. The bcrypt
// comparison runs even for unknown accounts to keep timing uniform.
func (s *userStore) authenticate(email, password string) (*user, error) {
	s.mu.RLock()
	u := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()

	hash := dummyHash
	if u != nil {
		hash = u.PasswordHash
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || u == nil {
		return nil, errInvalidCredentials
	}
	return u, nil
}

// lookup returns the user for the given email.
func (s *userStore) lookup(email string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	return u, ok
}

// dummyHash is compared against for unknown accounts.
var dummyHash = func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.New().String()), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}()
