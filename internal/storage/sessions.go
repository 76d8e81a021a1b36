package storage

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/farid/autostrike/internal/models"
	"go.etcd.io/bbolt"
)

// SaveSession persists a session snapshot to the database. A session whose
// stored record already carries a terminal status is immutable and further
// writes are rejected as no-ops.
func (s *Store) SaveSession(sess *models.ScanSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(bucketSessions))

		// Terminal records never change again.
		if existing := sessions.Get([]byte(sess.ID)); existing != nil {
			var prior models.ScanSession
			if err := json.Unmarshal(existing, &prior); err == nil && prior.Status.Terminal() {
				return nil
			}
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		if err := sessions.Put([]byte(sess.ID), data); err != nil {
			return err
		}

		// Update session index (project_id -> []session_id mapping).
		// Sessions without a project are retrievable by id only; bbolt
		// rejects empty keys.
		if sess.ProjectID == "" {
			return nil
		}
		index := tx.Bucket([]byte(bucketSessionIndex))
		projectKey := []byte(sess.ProjectID)

		var ids []string
		if existing := index.Get(projectKey); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return err
			}
		}

		// Append the session ID if not already present
		found := false
		for _, id := range ids {
			if id == sess.ID {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, sess.ID)
		}

		indexData, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return index.Put(projectKey, indexData)
	})
}

// GetSession retrieves a session record by ID. Returns (nil, nil) when the
// id is unknown.
func (s *Store) GetSession(id string) (*models.ScanSession, error) {
	var sess *models.ScanSession

	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(bucketSessions))
		data := sessions.Get([]byte(id))
		if data == nil {
			return nil // Not found
		}

		sess = &models.ScanSession{}
		return json.Unmarshal(data, sess)
	})

	return sess, err
}

// ListSessions retrieves all sessions for a project, sorted by CreatedAt
// descending (newest first).
func (s *Store) ListSessions(projectID string) ([]*models.ScanSession, error) {
	var sessions []*models.ScanSession

	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(bucketSessionIndex))
		data := index.Get([]byte(projectID))
		if data == nil {
			return nil // No sessions for this project
		}

		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}

		bucket := tx.Bucket([]byte(bucketSessions))
		for _, id := range ids {
			raw := bucket.Get([]byte(id))
			if raw != nil {
				var sess models.ScanSession
				if err := json.Unmarshal(raw, &sess); err != nil {
					return err
				}
				sessions = append(sessions, &sess)
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}

// UpdateSessionStatus updates the status of a stored session and stamps
// FinishedAt exactly once when the status becomes terminal.
func (s *Store) UpdateSessionStatus(id string, status models.SessionStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(bucketSessions))

		data := sessions.Get([]byte(id))
		if data == nil {
			return nil // Not found, no-op
		}

		var sess models.ScanSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return nil
		}

		sess.Status = status
		if status.Terminal() && sess.FinishedAt == nil {
			now := time.Now()
			sess.FinishedAt = &now
		}

		updated, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		return sessions.Put([]byte(id), updated)
	})
}
