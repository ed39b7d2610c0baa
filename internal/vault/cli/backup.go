package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/akorchagin/passvault/internal/common"
)

// backupNow exports an encrypted snapshot of the whole store to the
// configured object bucket. The passphrase is independent of any account
// password; losing it makes the snapshot unrecoverable.
func (a *App) backupNow(ctx context.Context) {
	if a.backup == nil {
		fmt.Println("No backup bucket configured.")
		return
	}

	passphrase, err := getPassword("Snapshot passphrase", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(passphrase)

	key, err := a.backup.Export(ctx, passphrase)
	if err != nil {
		printErr(err)
		return
	}
	fmt.Println("Snapshot uploaded:", key)
}

func (a *App) backupList(ctx context.Context) {
	if a.backup == nil {
		fmt.Println("No backup bucket configured.")
		return
	}

	keys, err := a.backup.ListSnapshots(ctx)
	if err != nil {
		printErr(err)
		return
	}
	if len(keys) == 0 {
		fmt.Println("No snapshots.")
		return
	}
	for _, k := range keys {
		fmt.Println(k)
	}
}

// restore downloads a snapshot into a new database file next to the live
// one. The live store is never overwritten; restart with -d pointing at the
// restored file to use it.
func (a *App) restore(ctx context.Context, args []string) {
	if a.backup == nil {
		fmt.Println("No backup bucket configured.")
		return
	}

	objectKey := ""
	if len(args) > 0 {
		objectKey = args[0]
	} else {
		var err error
		objectKey, err = getSimpleText(a.reader, "Snapshot object key (see 'backups')", os.Stdout)
		if err != nil {
			printErr(err)
			return
		}
	}

	passphrase, err := getPassword("Snapshot passphrase", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(passphrase)

	dest := a.config.DatabaseDSN + ".restored"
	if err := a.backup.Restore(ctx, objectKey, passphrase, dest); err != nil {
		printErr(err)
		return
	}
	fmt.Printf("Restored to %s. Restart with -d %s to use it.\n", dest, dest)
}
