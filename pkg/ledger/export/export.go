// Package export writes ledger entries as JSON, JSON lines, or CSV for
// auditors and offline analysis.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"mercator-hq/lethe/pkg/ledger"
)

// Format names an export format.
type Format string

const (
	FormatJSON      Format = "json"
	FormatJSONLines Format = "jsonl"
	FormatCSV       Format = "csv"
)

// Exporter writes entries to w.
type Exporter interface {
	Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error
}

// New returns the exporter for a format.
func New(format Format) (Exporter, error) {
	switch format {
	case FormatJSON:
		return &JSONExporter{Pretty: true}, nil
	case FormatJSONLines:
		return &JSONExporter{Lines: true}, nil
	case FormatCSV:
		return &CSVExporter{IncludeHeader: true}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// JSONExporter writes a JSON array, or one object per line when Lines is set.
type JSONExporter struct {
	Pretty bool
	Lines  bool
}

// Export implements Exporter.
func (e *JSONExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	if e.Lines {
		enc := json.NewEncoder(w)
		for i, entry := range entries {
			if i%256 == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			if err := enc.Encode(entry); err != nil {
				return ledger.NewExportError(string(FormatJSONLines), len(entries), err)
			}
		}
		return nil
	}

	if entries == nil {
		entries = []*ledger.Entry{}
	}
	var (
		data []byte
		err  error
	)
	if e.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return ledger.NewExportError(string(FormatJSON), len(entries), err)
	}
	if _, err := w.Write(data); err != nil {
		return ledger.NewExportError(string(FormatJSON), len(entries), err)
	}
	return nil
}

// CSVExporter flattens entries into one row each. Nested plan and score
// fields are reduced to the columns auditors filter on.
type CSVExporter struct {
	IncludeHeader bool
}

var csvHeader = []string{
	"seq", "id", "time", "kind", "item_id", "strategy", "from_stage", "to_stage",
	"composite", "approval_ref", "reason", "prev_hash", "hash",
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, entries []*ledger.Entry, w io.Writer) error {
	cw := csv.NewWriter(w)
	if e.IncludeHeader {
		if err := cw.Write(csvHeader); err != nil {
			return ledger.NewExportError(string(FormatCSV), len(entries), err)
		}
	}
	for i, entry := range entries {
		if i%256 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := cw.Write(row(entry)); err != nil {
			return ledger.NewExportError(string(FormatCSV), len(entries), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return ledger.NewExportError(string(FormatCSV), len(entries), err)
	}
	return nil
}

func row(e *ledger.Entry) []string {
	var strategy, from, to, composite string
	if e.Plan != nil {
		strategy = e.Plan.Kind.String()
	}
	if e.Transition != nil {
		from = e.Transition.From.String()
		to = e.Transition.To.String()
	}
	if e.Composite != nil {
		composite = strconv.FormatFloat(*e.Composite, 'f', 6, 64)
	}
	return []string{
		strconv.FormatUint(e.Seq, 10),
		e.ID,
		e.Time.Format(time.RFC3339Nano),
		string(e.Kind),
		e.ItemID,
		strategy,
		from,
		to,
		composite,
		e.ApprovalRef,
		e.Reason,
		e.PrevHash,
		e.Hash,
	}
}
