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

type ITransferRepository interface {
	Create(fileName, mimeType, fileRef string, sizeBytes int64, senderID string) (domain.Transfer, error)
	GetByCode(code domain.TransferCode) (domain.Transfer, error)
	GetStatus(code domain.TransferCode) (domain.TransferStatus, error)
	MarkRecipientChosen(code domain.TransferCode, recipientID string) (domain.Transfer, error)
	SetStatus(code domain.TransferCode, status domain.TransferStatus) (domain.Transfer, error)
	ListBySender(senderID string) ([]domain.Transfer, error)
	ListByRecipient(recipientID string) ([]domain.Transfer, error)
	Delete(code domain.TransferCode) error
}

type TransferRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewTransferRepository(db *badger.DB, log *slog.Logger) TransferRepository {
	return TransferRepository{db: db, log: log}
}

// Key layout:
//
//	transfer:{code}                          -> JSON record
//	idx:sender:{id}:{timestamp_padded}:{code}    -> code
//	idx:recipient:{id}:{timestamp_padded}:{code} -> code
//
// The 19-digit zero padding keeps index keys in chronological order so a
// reverse prefix scan yields newest-first listings directly.
func transferKey(code domain.TransferCode) []byte {
	return []byte(fmt.Sprintf("transfer:%s", code))
}

func senderIdxKey(senderID string, at time.Time, code domain.TransferCode) []byte {
	return []byte(fmt.Sprintf("idx:sender:%s:%019d:%s", senderID, at.UnixNano(), code))
}

func recipientIdxKey(recipientID string, at time.Time, code domain.TransferCode) []byte {
	return []byte(fmt.Sprintf("idx:recipient:%s:%019d:%s", recipientID, at.UnixNano(), code))
}

// Create registers a new shareable file and generates its transfer code.
func (r TransferRepository) Create(fileName, mimeType, fileRef string, sizeBytes int64, senderID string) (domain.Transfer, error) {
	now := time.Now().UTC()
	transfer := domain.Transfer{
		Code:      domain.NewTransferCode(),
		FileName:  fileName,
		FileRef:   fileRef,
		MimeType:  mimeType,
		SizeBytes: sizeBytes,
		SenderID:  senderID,
		Status:    domain.TransferPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(transfer)
	if err != nil {
		return domain.Transfer{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(transferKey(transfer.Code), data); err != nil {
			return err
		}
		return txn.Set(senderIdxKey(senderID, now, transfer.Code), []byte(transfer.Code))
	})
	if err != nil {
		return domain.Transfer{}, err
	}
	return transfer, nil
}

func (r TransferRepository) GetByCode(code domain.TransferCode) (domain.Transfer, error) {
	var transfer domain.Transfer
	err := r.db.View(func(txn *badger.Txn) error {
		t, err := getTransfer(txn, code)
		if err != nil {
			return err
		}
		transfer = t
		return nil
	})
	return transfer, err
}

// GetStatus is the gating query used by the external download endpoint:
// downloads must be refused until the status is completed.
func (r TransferRepository) GetStatus(code domain.TransferCode) (domain.TransferStatus, error) {
	transfer, err := r.GetByCode(code)
	if err != nil {
		return "", err
	}
	return transfer.Status, nil
}

// MarkRecipientChosen binds the recipient and advances the transfer to
// in_progress. Re-setting in_progress while already in_progress is a no-op.
// The recipient is bound at most once: re-initiating to someone else is a
// new transfer, not a mutation of this one.
func (r TransferRepository) MarkRecipientChosen(code domain.TransferCode, recipientID string) (domain.Transfer, error) {
	var transfer domain.Transfer
	err := r.db.Update(func(txn *badger.Txn) error {
		t, err := getTransfer(txn, code)
		if err != nil {
			return err
		}
		if t.RecipientID != "" && t.RecipientID != recipientID {
			return fmt.Errorf("%w: %s", apperrors.ErrRecipientBound, code)
		}
		if !t.Status.CanAdvanceTo(domain.TransferInProgress) {
			return fmt.Errorf("%w: %s is %s", apperrors.ErrStatusRegression, code, t.Status)
		}

		newlyBound := t.RecipientID == ""
		t.RecipientID = recipientID
		t.Status = domain.TransferInProgress
		t.UpdatedAt = time.Now().UTC()

		if err := putTransfer(txn, t); err != nil {
			return err
		}
		if newlyBound {
			if err := txn.Set(recipientIdxKey(recipientID, t.CreatedAt, code), []byte(code)); err != nil {
				return err
			}
		}
		transfer = t
		return nil
	})
	return transfer, err
}

// SetStatus advances the transfer status. Writing the current status again
// is accepted, any backwards move is rejected.
func (r TransferRepository) SetStatus(code domain.TransferCode, status domain.TransferStatus) (domain.Transfer, error) {
	var transfer domain.Transfer
	err := r.db.Update(func(txn *badger.Txn) error {
		t, err := getTransfer(txn, code)
		if err != nil {
			return err
		}
		if !t.Status.CanAdvanceTo(status) {
			return fmt.Errorf("%w: %s -> %s", apperrors.ErrStatusRegression, t.Status, status)
		}
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		if err := putTransfer(txn, t); err != nil {
			return err
		}
		transfer = t
		return nil
	})
	return transfer, err
}

func (r TransferRepository) ListBySender(senderID string) ([]domain.Transfer, error) {
	return r.listByIndex(fmt.Sprintf("idx:sender:%s:", senderID))
}

func (r TransferRepository) ListByRecipient(recipientID string) ([]domain.Transfer, error) {
	return r.listByIndex(fmt.Sprintf("idx:recipient:%s:", recipientID))
}

// listByIndex walks an index prefix backwards, newest first.
func (r TransferRepository) listByIndex(prefixStr string) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// With Reverse=true the seek must start past the end of the prefix range
		seekKey := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			var code domain.TransferCode
			if err := it.Item().Value(func(v []byte) error {
				code = domain.TransferCode(v)
				return nil
			}); err != nil {
				return err
			}
			t, err := getTransfer(txn, code)
			if err != nil {
				// Dangling index entry: skip, the record was deleted
				r.log.Warn("index entry without record", "code", code)
				continue
			}
			transfers = append(transfers, t)
		}
		return nil
	})
	return transfers, err
}

// Delete removes the record, its index entries, and any session record.
// Removing the stored bytes is the caller's job through the blob store.
func (r TransferRepository) Delete(code domain.TransferCode) error {
	return r.db.Update(func(txn *badger.Txn) error {
		t, err := getTransfer(txn, code)
		if err != nil {
			return err
		}
		if err := txn.Delete(transferKey(code)); err != nil {
			return err
		}
		if err := txn.Delete(senderIdxKey(t.SenderID, t.CreatedAt, code)); err != nil {
			return err
		}
		if t.RecipientID != "" {
			if err := txn.Delete(recipientIdxKey(t.RecipientID, t.CreatedAt, code)); err != nil {
				return err
			}
		}
		return txn.Delete(sessionKey(code))
	})
}

func getTransfer(txn *badger.Txn, code domain.TransferCode) (domain.Transfer, error) {
	var transfer domain.Transfer
	item, err := txn.Get(transferKey(code))
	if err != nil {
		if apperrors.Is(err, badger.ErrKeyNotFound) {
			return domain.Transfer{}, fmt.Errorf("%w: %s", apperrors.ErrNotFound, code)
		}
		return domain.Transfer{}, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &transfer)
	})
	return transfer, err
}

func putTransfer(txn *badger.Txn, t domain.Transfer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return txn.Set(transferKey(t.Code), data)
}
