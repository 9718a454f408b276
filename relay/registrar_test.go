package relay

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"transfer-relay/domain"
	apperrors "transfer-relay/errors"
	"transfer-relay/moderation"
	"transfer-relay/repositories"
	"transfer-relay/search"
	"transfer-relay/storage"
)

func setupRegistrar(t *testing.T) (*Registrar, *storage.DiskStore) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	store, err := storage.NewDiskStore(t.TempDir(), log)
	require.NoError(t, err)

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	screener, err := moderation.NewScreener([]string{"malware"})
	require.NoError(t, err)

	registrar := NewRegistrar(
		repositories.NewTransferRepository(db, log),
		store,
		search.NewTransferIndex(writer, log),
		screener,
		log,
	)
	return registrar, store
}

func TestRegisterCreatesPendingTransfer(t *testing.T) {
	req := require.New(t)
	registrar, store := setupRegistrar(t)

	transfer, err := registrar.Register("meeting notes.txt", strings.NewReader("meeting notes"), "alice")
	req.NoError(err)
	req.Len(string(transfer.Code), 8)
	req.Equal(domain.TransferPending, transfer.Status)
	req.Equal("alice", transfer.SenderID)
	req.Equal(int64(len("meeting notes")), transfer.SizeBytes)

	// Blob readable, record listed, index populated
	rc, err := store.OpenSequentialRead(transfer.FileRef)
	req.NoError(err)
	req.NoError(rc.Close())

	sent, err := registrar.SentBy("alice")
	req.NoError(err)
	req.Len(sent, 1)

	matches, err := registrar.Search(context.Background(), "meeting", 10)
	req.NoError(err)
	req.Len(matches, 1)
	req.Equal(transfer.Code, matches[0].Code)
}

func TestRegisterRejectsForbiddenName(t *testing.T) {
	req := require.New(t)
	registrar, _ := setupRegistrar(t)

	_, err := registrar.Register("m4lw4re.exe", strings.NewReader("payload"), "alice")
	req.ErrorIs(err, apperrors.ErrForbiddenFilename)

	sent, err := registrar.SentBy("alice")
	req.NoError(err)
	req.Empty(sent)
}

func TestStatusGatesDownloads(t *testing.T) {
	req := require.New(t)
	registrar, _ := setupRegistrar(t)

	transfer, err := registrar.Register("report.pdf", strings.NewReader("%PDF-1.4 data"), "alice")
	req.NoError(err)

	status, err := registrar.Status(transfer.Code)
	req.NoError(err)
	req.Equal(domain.TransferPending, status)

	_, err = registrar.Status("ZZZZZZZZ")
	req.ErrorIs(err, apperrors.ErrNotFound)
}

func TestDeleteBySenderRemovesEverything(t *testing.T) {
	req := require.New(t)
	registrar, store := setupRegistrar(t)

	transfer, err := registrar.Register("stale archive.txt", strings.NewReader("stale"), "alice")
	req.NoError(err)

	req.NoError(registrar.Delete(transfer.Code, "alice"))

	_, err = registrar.Get(transfer.Code)
	req.ErrorIs(err, apperrors.ErrNotFound)

	_, err = store.OpenSequentialRead(transfer.FileRef)
	req.ErrorIs(err, apperrors.ErrStorageUnavailable)

	matches, err := registrar.Search(context.Background(), "archive", 10)
	req.NoError(err)
	req.Empty(matches)
}

func TestDeleteByStrangerLooksLikeAbsence(t *testing.T) {
	req := require.New(t)
	registrar, _ := setupRegistrar(t)

	transfer, err := registrar.Register("private.txt", strings.NewReader("secret"), "alice")
	req.NoError(err)

	err = registrar.Delete(transfer.Code, "mallory")
	req.ErrorIs(err, apperrors.ErrNotFound)

	// Still present for the owner
	_, err = registrar.Get(transfer.Code)
	req.NoError(err)
}
