package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the most recent alert deliveries from the outbox ledger.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentOutbox(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEntity\tKind\tChannel\tSent\tAttempts\tError")

	for _, rec := range records {
		sentAt := "-"
		if !rec.SentAt.IsZero() {
			sentAt = rec.SentAt.UTC().Format(time.RFC3339)
		}
		sent := "no"
		if rec.SentOK {
			sent = "yes"
		}
		errMsg := ""
		if rec.LastError != nil {
			errMsg = sanitizeInline(*rec.LastError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			sentAt,
			rec.EntityID,
			rec.Kind,
			rec.Channel,
			sent,
			rec.Attempts,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
