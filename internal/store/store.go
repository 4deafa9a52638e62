package store

import (
	"sort"
	"sync"
	"time"
)

// Store is a thread-safe in-memory user database with auto-incrementing
// IDs. The zero value is not usable; create one with New.
type Store struct {
	mu     sync.RWMutex
	users  map[int]User
	nextID int
	now    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[int]User),
		nextID: 1,
		now:    time.Now,
	}
}

// Create validates params, enforces email uniqueness, and stores a new
// user with a fresh ID and timestamps.
func (s *Store) Create(params UserParams) (User, error) {
	if err := validateName(params.Name); err != nil {
		return User{}, err
	}
	if err := validateEmail(params.Email); err != nil {
		return User{}, err
	}
	if err := validateAge(params.Age); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTakenLocked(params.Email, 0) {
		return User{}, ErrEmailExists
	}

	now := s.now().UTC()
	u := User{
		ID:        s.nextID,
		Name:      params.Name,
		Email:     params.Email,
		Age:       params.Age,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.nextID++
	return u, nil
}

// Get returns the user with the given ID, or ErrNotFound.
func (s *Store) Get(id int) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// List returns one page of users in ID order, plus the total count.
// page is 1-based; size must be positive.
func (s *Store) List(page, size int) (users []User, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked()
	total = len(all)

	start := (page - 1) * size
	if start >= len(all) {
		return []User{}, total
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total
}

// Update applies a partial update to an existing user. Patched fields are
// validated; a patched email must stay unique.
func (s *Store) Update(id int, patch UserPatch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}

	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return User{}, err
		}
		u.Name = *patch.Name
	}
	if patch.Email != nil {
		if err := validateEmail(*patch.Email); err != nil {
			return User{}, err
		}
		if s.emailTakenLocked(*patch.Email, id) {
			return User{}, ErrEmailExists
		}
		u.Email = *patch.Email
	}
	if patch.Age != nil {
		if err := validateAge(patch.Age); err != nil {
			return User{}, err
		}
		u.Age = patch.Age
	}

	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return u, nil
}

// Delete removes the user with the given ID, or returns ErrNotFound.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// Count returns the number of stored users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// emailTakenLocked reports whether email belongs to a user other than
// excludeID. Caller must hold the lock.
func (s *Store) emailTakenLocked(email string, excludeID int) bool {
	for id, u := range s.users {
		if id == excludeID {
			continue
		}
		if u.Email == email {
			return true
		}
	}
	return false
}

// sortedLocked returns all users ordered by ID. Caller must hold the lock.
func (s *Store) sortedLocked() []User {
	all := make([]User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
