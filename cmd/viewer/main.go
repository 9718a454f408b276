package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"transfer-relay/domain"
)

// Read-only terminal view over the relay's registry: transfers and their
// sessions, colored by status. Safe to run next to a live relay thanks to
// BypassLockGuard.
type viewerConfig struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
}

func main() {
	_ = godotenv.Load()
	var config viewerConfig
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	what := flag.String("show", "transfers", "What to list: transfers or sessions")
	flag.Parse()

	db, err := openDB(config.BadgerFilepath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	switch *what {
	case "transfers":
		if err := listTransfers(db); err != nil {
			log.Fatal(err)
		}
	case "sessions":
		if err := listSessions(db); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown -show value %q (want transfers or sessions)", *what)
	}
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func listTransfers(db *badger.DB) error {
	table := newTable([]string{"Code", "File", "Size", "Sender", "Recipient", "Status", "Updated"})

	err := scanPrefix(db, "transfer:", func(val []byte) error {
		var t domain.Transfer
		if err := json.Unmarshal(val, &t); err != nil {
			return nil
		}
		table.Append([]string{
			string(t.Code),
			t.FileName,
			fmt.Sprintf("%d", t.SizeBytes),
			t.SenderID,
			t.RecipientID,
			colorTransferStatus(t.Status),
			t.UpdatedAt.Format("15:04:05"),
		})
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func listSessions(db *badger.DB) error {
	table := newTable([]string{"Code", "Conn", "Status", "Progress", "Reason", "Updated"})

	err := scanPrefix(db, "session:", func(val []byte) error {
		var s domain.TransferSession
		if err := json.Unmarshal(val, &s); err != nil {
			return nil
		}
		table.Append([]string{
			string(s.SessionID),
			s.ChannelIdentity,
			colorSessionStatus(s.Status),
			fmt.Sprintf("%.1f%%", s.Progress),
			s.FailureReason,
			s.UpdatedAt.Format("15:04:05"),
		})
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func scanPrefix(db *badger.DB, prefix string, fn func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func colorTransferStatus(s domain.TransferStatus) string {
	switch s {
	case domain.TransferCompleted:
		return color.Green.Sprint(s)
	case domain.TransferFailed:
		return color.Red.Sprint(s)
	case domain.TransferInProgress:
		return color.Yellow.Sprint(s)
	default:
		return string(s)
	}
}

func colorSessionStatus(s domain.SessionStatus) string {
	switch s {
	case domain.SessionCompleted:
		return color.Green.Sprint(s)
	case domain.SessionFailed:
		return color.Red.Sprint(s)
	case domain.SessionActive:
		return color.Yellow.Sprint(s)
	default:
		return string(s)
	}
}
