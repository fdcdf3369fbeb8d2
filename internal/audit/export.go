package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "created_at", "actor_id", "actor_name", "actor_type",
	"action", "entity_type", "entity_id", "severity", "description", "ip_address",
}

// WriteCSV writes entries as CSV. Descriptions go through Render, so entries
// without a stored description read the same as new ones.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write(csvRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(e Entry) []string {
	return []string{
		e.ID,
		time.UnixMilli(e.CreatedAt).UTC().Format(time.RFC3339),
		e.ActorID,
		e.ActorName,
		string(e.ActorType),
		string(e.Action),
		string(e.EntityType),
		e.EntityID,
		string(e.Severity),
		Render(e),
		e.IPAddress,
	}
}

// CheckExport reports whether an export for organizationID with f would be
// rejected, so callers can answer with an error before streaming.
func (q *QueryService) CheckExport(organizationID string, f Filters) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}
	return f.validate()
}

// Export streams up to maxRows matching entries as CSV, newest first. It
// returns the number of rows written. Nothing is written to w until the first
// page has been read, so a failure with zero rows left w untouched.
func (q *QueryService) Export(ctx context.Context, organizationID string, f Filters, w io.Writer, maxRows int) (int, error) {
	page, err := q.List(ctx, organizationID, f, "", q.maxPageSize)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	written := 0
	for {
		for _, e := range page.Logs {
			if maxRows > 0 && written >= maxRows {
				break
			}
			if err := cw.Write(csvRow(e)); err != nil {
				return written, err
			}
			written++
		}
		if !page.HasMore || (maxRows > 0 && written >= maxRows) {
			break
		}
		if page, err = q.List(ctx, organizationID, f, page.NextCursor, q.maxPageSize); err != nil {
			cw.Flush()
			return written, err
		}
	}
	cw.Flush()
	return written, cw.Error()
}
