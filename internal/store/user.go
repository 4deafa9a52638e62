// Package store provides the in-memory user database behind the HTTP API.
// The store is an explicit object handed to its callers, never a package
// global; every compound read-modify-write happens under one exclusive
// lock so concurrent mutations cannot lose updates.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// User is a stored user with server-generated fields.
type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       *int      `json:"age,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserParams are caller-supplied fields for creating a user.
type UserParams struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   *int   `json:"age,omitempty"`
}

// UserPatch holds optional fields for a partial update. Nil means
// "leave unchanged".
type UserPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Age   *int    `json:"age,omitempty"`
}

// Sentinel errors returned by store operations.
var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("email already registered")
)

// ValidationError reports a field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// emailPattern is a deliberately loose shape check: something@something.tld.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	maxNameLen = 100
	maxAge     = 150
)

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(name) > maxNameLen {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameLen)}
	}
	return nil
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	return nil
}

func validateAge(age *int) error {
	if age == nil {
		return nil
	}
	if *age <= 0 || *age > maxAge {
		return &ValidationError{Field: "age", Reason: fmt.Sprintf("must be between 1 and %d", maxAge)}
	}
	return nil
}

// validateUser checks the mutable fields of a user.
func validateUser(u User) error {
	if err := validateName(u.Name); err != nil {
		return err
	}
	if err := validateEmail(u.Email); err != nil {
		return err
	}
	return validateAge(u.Age)
}
