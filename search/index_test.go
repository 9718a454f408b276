package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/stretchr/testify/require"

	"transfer-relay/domain"
)

func setupIndex(t *testing.T) *TransferIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewTransferIndex(writer, slog.Default())
}

func makeTransfer(code, fileName, senderID string) domain.Transfer {
	return domain.Transfer{
		Code:      domain.TransferCode(code),
		FileName:  fileName,
		MimeType:  "application/pdf",
		SizeBytes: 1024,
		SenderID:  senderID,
		Status:    domain.TransferPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSearchByFileName(t *testing.T) {
	req := require.New(t)
	index := setupIndex(t)

	req.NoError(index.Index(makeTransfer("AB12CD34", "holiday photos.zip", "alice")))
	req.NoError(index.Index(makeTransfer("EF56GH78", "tax report 2024.pdf", "bob")))

	matches, err := index.Search(context.Background(), "holiday", 10)
	req.NoError(err)
	req.Len(matches, 1)
	req.Equal(domain.TransferCode("AB12CD34"), matches[0].Code)
	req.Equal("holiday photos.zip", matches[0].FileName)
	req.Equal("alice", matches[0].SenderID)
}

func TestSearchBySender(t *testing.T) {
	req := require.New(t)
	index := setupIndex(t)

	req.NoError(index.Index(makeTransfer("AB12CD34", "one.txt", "alice")))
	req.NoError(index.Index(makeTransfer("EF56GH78", "two.txt", "alice")))
	req.NoError(index.Index(makeTransfer("IJ90KL12", "three.txt", "bob")))

	matches, err := index.Search(context.Background(), "alice", 10)
	req.NoError(err)
	req.Len(matches, 2)
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	req := require.New(t)
	index := setupIndex(t)

	req.NoError(index.Index(makeTransfer("AB12CD34", "secret plans.doc", "alice")))
	req.NoError(index.Delete("AB12CD34"))

	matches, err := index.Search(context.Background(), "secret", 10)
	req.NoError(err)
	req.Empty(matches)
}

func TestSearchNoResults(t *testing.T) {
	req := require.New(t)
	index := setupIndex(t)

	matches, err := index.Search(context.Background(), "nothing", 5)
	req.NoError(err)
	req.Empty(matches)
}
