package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blugelabs/bluge"

	"transfer-relay/domain"
)

// Match is one search hit, reconstructed from stored fields.
type Match struct {
	Code     domain.TransferCode
	FileName string
	SenderID string
}

type ITransferIndex interface {
	Index(transfer domain.Transfer) error
	Delete(code domain.TransferCode) error
	Search(ctx context.Context, query string, limit int) ([]Match, error)
}

// TransferIndex is the full-text side of the registry: transfers become
// searchable by file name or sender as soon as they are registered. The
// Badger repositories stay the source of truth, the index only ever holds
// what can be rebuilt from them.
type TransferIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewTransferIndex(writer *bluge.Writer, log *slog.Logger) *TransferIndex {
	return &TransferIndex{writer: writer, log: log}
}

func (i *TransferIndex) Index(transfer domain.Transfer) error {
	doc := bluge.NewDocument(string(transfer.Code)).
		AddField(bluge.NewTextField("file_name", transfer.FileName).StoreValue()).
		AddField(bluge.NewKeywordField("sender_id", transfer.SenderID).StoreValue()).
		AddField(bluge.NewKeywordField("mime_type", transfer.MimeType))

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("indexing transfer %s: %w", transfer.Code, err)
	}
	return nil
}

func (i *TransferIndex) Delete(code domain.TransferCode) error {
	doc := bluge.NewDocument(string(code))
	if err := i.writer.Delete(doc.ID()); err != nil {
		return fmt.Errorf("deleting transfer %s from index: %w", code, err)
	}
	return nil
}

// Search matches the query against file names and sender identifiers and
// returns up to limit hits, best scoring first.
func (i *TransferIndex) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening index reader: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("closing index reader failed", "error", err)
		}
	}()

	q := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(query).SetField("file_name")).
		AddShould(bluge.NewTermQuery(query).SetField("sender_id"))

	iter, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, fmt.Errorf("searching transfers: %w", err)
	}

	var matches []Match
	next, err := iter.Next()
	for err == nil && next != nil {
		var m Match
		visitErr := next.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				m.Code = domain.TransferCode(value)
			case "file_name":
				m.FileName = string(value)
			case "sender_id":
				m.SenderID = string(value)
			}
			return true
		})
		if visitErr != nil {
			return nil, fmt.Errorf("reading stored fields: %w", visitErr)
		}
		matches = append(matches, m)
		next, err = iter.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return matches, nil
}
