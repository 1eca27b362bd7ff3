package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent readings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	readings, err := store.ListRecentReadings(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tGram 24k\tOunce\tChange\tCurrency\tAlert")

	for _, reading := range readings {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%t\n",
			reading.CreatedAt.UTC().Format(time.RFC3339),
			formatDecimal(reading.PriceGram24, 2),
			formatDecimal(reading.PriceOunce, 2),
			formatDecimal(reading.Change, 2),
			reading.Currency,
			reading.AlertSent,
		)
	}

	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
