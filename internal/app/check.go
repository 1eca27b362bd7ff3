package app

import (
	"context"
	"fmt"
	"os"
)

// Check 手动执行一次金价检查并打印摘要。
func (a *App) Check(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := a.newService(store).CheckPrice(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "current price: %s\n", result.CurrentPrice.StringFixed(2))
	if result.PreviousPrice != nil {
		fmt.Fprintf(os.Stdout, "previous price: %s\n", result.PreviousPrice.StringFixed(2))
	} else {
		fmt.Fprintln(os.Stdout, "previous price: none (first reading)")
	}
	fmt.Fprintf(os.Stdout, "price diff: %s\n", result.PriceDiff.StringFixed(2))
	fmt.Fprintf(os.Stdout, "alert sent: %t\n", result.AlertSent)
	if result.Delivery != nil && !result.Delivery.Success {
		fmt.Fprintf(os.Stdout, "delivery failed: %s\n", result.Delivery.Reason)
	}
	return nil
}

// Digest 手动触发一次每日摘要推送。
func (a *App) Digest(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newService(store).SendDailyDigest(ctx)
}
