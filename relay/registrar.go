package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"transfer-relay/domain"
	apperrors "transfer-relay/errors"
	"transfer-relay/moderation"
	"transfer-relay/repositories"
	"transfer-relay/search"
	"transfer-relay/storage"
)

// Registrar owns transfer lifecycle outside of an active session: upload
// registration, listings, download gating and removal. The Engine only ever
// touches transfers the Registrar created.
type Registrar struct {
	transfers repositories.ITransferRepository
	store     storage.IBlobStore
	index     search.ITransferIndex
	screener  *moderation.Screener
	log       *slog.Logger
}

func NewRegistrar(
	transfers repositories.ITransferRepository,
	store storage.IBlobStore,
	index search.ITransferIndex,
	screener *moderation.Screener,
	log *slog.Logger,
) *Registrar {
	return &Registrar{
		transfers: transfers,
		store:     store,
		index:     index,
		screener:  screener,
		log:       log,
	}
}

// Register screens the file name, persists the blob and creates the pending
// transfer record. The returned transfer carries the code the sender shares
// out of band.
func (r *Registrar) Register(fileName string, content io.Reader, senderID string) (domain.Transfer, error) {
	if err := r.screener.Screen(fileName); err != nil {
		return domain.Transfer{}, err
	}

	info, err := r.store.Save(fileName, content)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("storing upload: %w", err)
	}

	transfer, err := r.transfers.Create(fileName, info.MimeType, info.Ref, info.SizeBytes, senderID)
	if err != nil {
		// Orphaned blobs are worse than failed registrations
		if removeErr := r.store.Remove(info.Ref); removeErr != nil {
			r.log.Error("removing orphaned blob failed", "file_ref", info.Ref, "error", removeErr)
		}
		return domain.Transfer{}, err
	}

	if err := r.index.Index(transfer); err != nil {
		// Search lags behind the registry rather than blocking it
		r.log.Warn("indexing transfer failed", "code", transfer.Code, "error", err)
	}

	r.log.Info("transfer registered",
		"code", transfer.Code,
		"file_name", transfer.FileName,
		"size_bytes", transfer.SizeBytes,
		"mime_type", transfer.MimeType,
	)
	return transfer, nil
}

// Status resolves a transfer's current status; downloads are gated on this
// answering completed.
func (r *Registrar) Status(code domain.TransferCode) (domain.TransferStatus, error) {
	return r.transfers.GetStatus(code)
}

func (r *Registrar) Get(code domain.TransferCode) (domain.Transfer, error) {
	return r.transfers.GetByCode(code)
}

func (r *Registrar) SentBy(senderID string) ([]domain.Transfer, error) {
	return r.transfers.ListBySender(senderID)
}

func (r *Registrar) ReceivedBy(recipientID string) ([]domain.Transfer, error) {
	return r.transfers.ListByRecipient(recipientID)
}

func (r *Registrar) Search(ctx context.Context, query string, limit int) ([]search.Match, error) {
	return r.index.Search(ctx, query, limit)
}

// Delete removes the transfer record, its blob and its index entry. Only
// the sender or the bound recipient may remove a transfer; everyone else
// sees it as absent.
func (r *Registrar) Delete(code domain.TransferCode, requesterID string) error {
	transfer, err := r.transfers.GetByCode(code)
	if err != nil {
		return err
	}
	// An unbound transfer has an empty recipient, so an anonymous requester
	// must not slip through the comparison
	if requesterID == "" || (requesterID != transfer.SenderID && requesterID != transfer.RecipientID) {
		return fmt.Errorf("transfer %s not visible to %s: %w", code, requesterID, apperrors.ErrNotFound)
	}

	if err := r.transfers.Delete(code); err != nil {
		return err
	}
	if err := r.store.Remove(transfer.FileRef); err != nil {
		r.log.Warn("removing blob failed", "code", code, "file_ref", transfer.FileRef, "error", err)
	}
	if err := r.index.Delete(code); err != nil {
		r.log.Warn("removing index entry failed", "code", code, "error", err)
	}

	r.log.Info("transfer deleted", "code", code, "requester", requesterID)
	return nil
}
