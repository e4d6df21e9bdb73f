// Package tray shows the gateway's status in the system tray.
package tray

import (
	"context"
	"fmt"
	"time"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
)

// refreshInterval is how often the menu re-lists readers.
const refreshInterval = 15 * time.Second

// displayVersion adds a "v" prefix to release versions but not to dev builds.
func displayVersion(v string) string {
	if len(v) > 0 && v[0] >= '0' && v[0] <= '9' {
		return "v" + v
	}
	return v
}

func readerTitle(count int, err string) string {
	switch {
	case err != "":
		return "Readers: unavailable"
	case count == 0:
		return "Readers: None connected"
	case count == 1:
		return "Readers: 1 connected"
	}
	return fmt.Sprintf("Readers: %d connected", count)
}

func historyTitle(n int) string {
	if n == 1 {
		return "History: 1 card read"
	}
	return fmt.Sprintf("History: %d cards read", n)
}

// readerSummary lists readers through the dispatcher so the tray goes through
// the same locks, metrics and logs as every other caller.
func readerSummary(ctx context.Context, d *gateway.Dispatcher) (count int, active string, errMsg string) {
	ctx, cancel := context.WithTimeout(ctx, driver.DefaultTimeout)
	defer cancel()

	res := d.Execute(ctx, driver.ListReaders())
	if !res.Success {
		return 0, "", res.Message
	}
	count = gateway.IntOrDefault(res.Payload["count"], 0)
	active = res.Payload.String("active")
	return count, active, ""
}
