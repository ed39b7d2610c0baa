package cli

import (
	"context"
	"fmt"
)

// sync runs one full reconciliation cycle against the remote store and
// prints the counters.
func (a *App) sync(ctx context.Context) {
	if a.syncer == nil {
		fmt.Println("No remote configured (set remote_addr).")
		return
	}

	report, err := a.syncer.Run(ctx)
	if err != nil {
		a.setMode(ModeOffline)
		printErr(err)
		return
	}
	a.setMode(ModeOnline)

	fmt.Printf("Sync done: pushed=%d pulled=%d conflicts=%d purged=%d awaiting-key=%d errors=%d\n",
		report.Pushed, report.Pulled, report.Conflicts, report.Purged, report.AwaitingKey, report.Errors)
}
