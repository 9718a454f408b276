package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"transfer-relay/domain"
)

//go:embed inspect.html
var templatesFS embed.FS

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Namespace string
	Detail    string
	Scores    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer exposes a read-only HTML view over the Badger keyspace
// plus live relay counters. Debug tooling only, never exposed beyond
// localhost in any sane deployment.
func StartDebugServer(db *badger.DB, port int, endpoint string, mapper RowMapper, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	if mapper == nil {
		mapper = RelayMapper
	}

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "transfer:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}

		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

// RelayMapper renders transfer and session records into inspector rows;
// anything else falls back to a raw size display.
func RelayMapper(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Type:      "RAW",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Namespace: "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
		Scores:    "-",
	}

	switch {
	case strings.HasPrefix(key, "transfer:"):
		var t domain.Transfer
		if err := json.Unmarshal(val, &t); err != nil {
			return row
		}
		row.Type = "TRANSFER"
		row.Timestamp = t.UpdatedAt.Format("15:04:05")
		row.EntityID = string(t.Code)
		row.Namespace = string(t.Status)
		row.Detail = fmt.Sprintf("%s (%d bytes) %s -> %s", t.FileName, t.SizeBytes, t.SenderID, t.RecipientID)
	case strings.HasPrefix(key, "session:"):
		var s domain.TransferSession
		if err := json.Unmarshal(val, &s); err != nil {
			return row
		}
		row.Type = "SESSION"
		row.Timestamp = s.UpdatedAt.Format("15:04:05")
		row.EntityID = string(s.SessionID)
		row.Namespace = string(s.Status)
		row.Detail = s.FailureReason
		row.Scores = fmt.Sprintf("%.1f%%", s.Progress)
	}
	return row
}
