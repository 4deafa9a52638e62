package store

import (
	"encoding/json"
	"fmt"

	"github.com/pcollins/recmerge/internal/merge"
	"github.com/pcollins/recmerge/internal/record"
)

// batchKeyField is the identifier field of user records on the wire.
const batchKeyField = "id"

// BatchResult reports one ApplyBatch call.
type BatchResult struct {
	Summary     merge.Summary      `json:"summary"`
	Diagnostics []merge.Diagnostic `json:"diagnostics,omitempty"`
	Users       []User             `json:"users"`
}

// ApplyBatch merges a batch of partial update records into the stored
// users in one read-snapshot, merge, validate, commit cycle under the
// store's exclusive lock. Nothing is committed if any merged user fails
// validation, the snapshot stays untouched and the error is returned.
//
// Updates match users by the numeric "id" field. Fields outside the user
// schema are dropped on commit; server-generated fields (id, created_at)
// cannot be changed by a batch.
func (s *Store) ApplyBatch(updates []*record.Record) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.sortedLocked()
	base := make([]*record.Record, len(snapshot))
	for i, u := range snapshot {
		rec, err := userToRecord(u)
		if err != nil {
			return nil, fmt.Errorf("store: encode user %d: %w", u.ID, err)
		}
		base[i] = rec
	}

	res, err := merge.Merge(base, updates, batchKeyField)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	merged := make([]User, len(res.Records))
	for i, rec := range res.Records {
		u, err := recordToUser(rec)
		if err != nil {
			return nil, fmt.Errorf("store: user %d: %w", snapshot[i].ID, err)
		}

		// Server-generated fields are not patchable.
		u.ID = snapshot[i].ID
		u.CreatedAt = snapshot[i].CreatedAt

		if !rec.Equal(base[i]) {
			u.UpdatedAt = now
		} else {
			u.UpdatedAt = snapshot[i].UpdatedAt
		}

		if err := validateUser(u); err != nil {
			return nil, fmt.Errorf("store: user %d after batch: %w", u.ID, err)
		}
		merged[i] = u
	}

	// Email uniqueness must hold across the merged set, same as Create
	// and Update enforce per user.
	emails := make(map[string]int, len(merged))
	for _, u := range merged {
		if prev, taken := emails[u.Email]; taken {
			return nil, fmt.Errorf("store: users %d and %d after batch: %w", prev, u.ID, ErrEmailExists)
		}
		emails[u.Email] = u.ID
	}

	// Validation passed for every record: commit.
	for _, u := range merged {
		s.users[u.ID] = u
	}

	return &BatchResult{
		Summary:     merge.Summarize(res, len(base), len(updates)),
		Diagnostics: res.Diagnostics,
		Users:       merged,
	}, nil
}

func userToRecord(u User) (*record.Record, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	rec := record.New()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func recordToUser(rec *record.Record) (User, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("decode merged record: %w", err)
	}
	return u, nil
}
