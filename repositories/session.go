package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"transfer-relay/domain"
	apperrors "transfer-relay/errors"
)

type ISessionRepository interface {
	CreateSession(code domain.TransferCode, channelIdentity string) (domain.TransferSession, error)
	Get(code domain.TransferCode) (domain.TransferSession, error)
	UpdateProgress(code domain.TransferCode, progress float64) error
	CompleteSession(code domain.TransferCode) (domain.TransferSession, bool, error)
	FailSession(code domain.TransferCode, reason string) (domain.TransferSession, bool, error)
	ActiveSessions() ([]domain.TransferSession, error)
}

type SessionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSessionRepository(db *badger.DB, log *slog.Logger) SessionRepository {
	return SessionRepository{db: db, log: log}
}

func sessionKey(code domain.TransferCode) []byte {
	return []byte(fmt.Sprintf("session:%s", code))
}

// CreateSession opens the single relay session for a transfer.
// The exactly-one-active-session contract is enforced inside one Badger
// transaction: concurrent initiations serialize on the key and the loser
// gets ErrAlreadyActive. A terminal session from a previous attempt is
// replaced, never resurrected.
func (r SessionRepository) CreateSession(code domain.TransferCode, channelIdentity string) (domain.TransferSession, error) {
	now := time.Now().UTC()
	session := domain.TransferSession{
		SessionID:       code,
		ChannelIdentity: channelIdentity,
		Status:          domain.SessionActive,
		Progress:        0,
		StartedAt:       now,
		UpdatedAt:       now,
	}

	create := func() error {
		return r.db.Update(func(txn *badger.Txn) error {
			existing, err := getSession(txn, code)
			if err == nil && existing.Status == domain.SessionActive {
				return fmt.Errorf("%w: %s held by %s", apperrors.ErrAlreadyActive, code, existing.ChannelIdentity)
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrInvalidSession) {
				return err
			}
			return putSession(txn, session)
		})
	}

	err := create()
	// Two back-to-back initiations may collide on the key inside Badger.
	// Retrying turns the conflict into the contract's AlreadyActive rejection,
	// since the winner's session is visible on the second attempt.
	for attempts := 0; apperrors.Is(err, badger.ErrConflict) && attempts < 3; attempts++ {
		err = create()
	}
	if err != nil {
		return domain.TransferSession{}, err
	}
	return session, nil
}

func (r SessionRepository) Get(code domain.TransferCode) (domain.TransferSession, error) {
	var session domain.TransferSession
	err := r.db.View(func(txn *badger.Txn) error {
		s, err := getSession(txn, code)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	return session, err
}

// UpdateProgress persists a progress value for an active session.
// Progress is monotonic: a lower value than the stored one is rejected with
// ErrProgressRegression rather than silently clamped, so a misbehaving
// sender shows up in the logs instead of corrupting state.
func (r SessionRepository) UpdateProgress(code domain.TransferCode, progress float64) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %f out of range", apperrors.ErrProgressRegression, progress)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		session, err := getSession(txn, code)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", apperrors.ErrInvalidSession, code, session.Status)
		}
		if progress < session.Progress {
			return fmt.Errorf("%w: %f < %f", apperrors.ErrProgressRegression, progress, session.Progress)
		}
		session.Progress = progress
		session.UpdatedAt = time.Now().UTC()
		return putSession(txn, session)
	})
}

// CompleteSession transitions to completed exactly once. A second call on a
// terminal session is a no-op returning the existing state: completion can
// be signaled redundantly from both ingestion paths. The boolean reports
// whether this call performed the transition, so broadcast side effects
// happen only on the first one.
func (r SessionRepository) CompleteSession(code domain.TransferCode) (domain.TransferSession, bool, error) {
	return r.terminate(code, domain.SessionCompleted, "")
}

// FailSession is the failure counterpart of CompleteSession, same idempotence.
func (r SessionRepository) FailSession(code domain.TransferCode, reason string) (domain.TransferSession, bool, error) {
	return r.terminate(code, domain.SessionFailed, reason)
}

func (r SessionRepository) terminate(code domain.TransferCode, status domain.SessionStatus, reason string) (domain.TransferSession, bool, error) {
	var session domain.TransferSession
	var transitioned bool
	err := r.db.Update(func(txn *badger.Txn) error {
		s, err := getSession(txn, code)
		if err != nil {
			return err
		}
		if s.Status.IsTerminal() {
			session = s
			return nil
		}
		s.Status = status
		s.FailureReason = reason
		if status == domain.SessionCompleted {
			s.Progress = 100
		}
		s.UpdatedAt = time.Now().UTC()
		if err := putSession(txn, s); err != nil {
			return err
		}
		session = s
		transitioned = true
		return nil
	})
	if err != nil {
		return domain.TransferSession{}, false, err
	}
	return session, transitioned, nil
}

// ActiveSessions scans every session record and keeps the active ones.
// A full prefix scan is fine here, the reaper runs on a slow ticker and
// session records stay few.
func (r SessionRepository) ActiveSessions() ([]domain.TransferSession, error) {
	var sessions []domain.TransferSession
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("session:")
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var session domain.TransferSession
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &session)
			}); err != nil {
				return err
			}
			if session.Status == domain.SessionActive {
				sessions = append(sessions, session)
			}
		}
		return nil
	})
	return sessions, err
}

func getSession(txn *badger.Txn, code domain.TransferCode) (domain.TransferSession, error) {
	var session domain.TransferSession
	item, err := txn.Get(sessionKey(code))
	if err != nil {
		if apperrors.Is(err, badger.ErrKeyNotFound) {
			return domain.TransferSession{}, fmt.Errorf("%w: no session for %s", apperrors.ErrInvalidSession, code)
		}
		return domain.TransferSession{}, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &session)
	})
	return session, err
}

func putSession(txn *badger.Txn, s domain.TransferSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(s.SessionID), data)
}
