package history

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/mcclellann/lendbook/pkg/models"
)

const dateLayout = time.RFC3339Nano

// Header names the columns produced by Row.
func Header() []string {
	return []string{"loan_id", "person", "date", "action", "description", "amount"}
}

// cellText quotes free text that a spreadsheet would otherwise run as a formula.
func cellText(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}

// Row flattens one history entry of a loan into a tabular record. The amount
// column is empty when the entry has none.
func Row(l *models.Loan, e models.HistoryEntry) []string {
	amount := ""
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return []string{
		l.ID.String(),
		cellText(l.PersonName),
		e.Date.UTC().Format(dateLayout),
		string(e.Action),
		cellText(e.Description),
		amount,
	}
}

// WriteCSV writes the display history of every loan, newest first per loan.
func WriteCSV(w io.Writer, loans []*models.Loan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, l := range loans {
		for _, e := range Display(l) {
			if err := cw.Write(Row(l, e)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
