package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/vault/models"
)

// list prints every record visible to the session: all shared records plus
// the caller's own private ones. Soft-deleted rows are hidden.
func (a *App) list(ctx context.Context) {
	items, err := a.secrets.List(ctx)
	if err != nil {
		printErr(err)
		return
	}
	if len(items) == 0 {
		fmt.Println("No records.")
		return
	}

	for _, item := range items {
		flags := ""
		if item.IsPrivate {
			flags += " [private]"
		}
		if item.KeyState == models.KeyStateLocked {
			flags += " [awaiting key]"
		}
		if !item.Synced {
			flags += " *"
		}
		fmt.Printf("#%d  %s / %s  (owner %s, v%d)%s\n",
			item.ID, item.Service, item.Username, item.OwnerName, item.Version, flags)
	}
}

// argOrPromptID resolves a record identifier either from command arguments
// or interactively.
func (a *App) argOrPromptID(args []string) (int64, error) {
	raw := ""
	if len(args) > 0 {
		raw = args[0]
	} else {
		var err error
		raw, err = getSimpleText(a.reader, "Record id", os.Stdout)
		if err != nil {
			return 0, err
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q", raw)
	}
	return id, nil
}

// show decrypts one record and prints its fields. Decryption verifies the
// integrity hash first and the AEAD tag second.
func (a *App) show(ctx context.Context, args []string) {
	id, err := a.argOrPromptID(args)
	if err != nil {
		printErr(err)
		return
	}

	fields, err := a.secrets.Reveal(ctx, id)
	if err != nil {
		printErr(err)
		return
	}

	fmt.Println("Password:", fields.Password)
	if fields.Notes != "" {
		fmt.Println("Notes:")
		fmt.Println(fields.Notes)
	}
}

// update replaces a record's payload, bumping its version.
func (a *App) update(ctx context.Context, args []string) {
	id, err := a.argOrPromptID(args)
	if err != nil {
		printErr(err)
		return
	}

	password, err := getPassword("New secret value", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(password)

	notes, err := GetMultiline(a.reader, "Notes (optional)", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	if err := a.secrets.Update(ctx, id, models.SecretFields{Password: string(password), Notes: notes}); err != nil {
		printErr(err)
		return
	}
	fmt.Println("Updated.")
}

// delete marks a record as a tombstone; the row is purged only after the
// remote delete is acknowledged by a sync.
func (a *App) delete(ctx context.Context, args []string) {
	id, err := a.argOrPromptID(args)
	if err != nil {
		printErr(err)
		return
	}

	ok, err := GetYesNo(a.reader, fmt.Sprintf("Delete record #%d?", id), os.Stdout)
	if err != nil || !ok {
		return
	}

	if err := a.secrets.Delete(ctx, id); err != nil {
		printErr(err)
		return
	}
	fmt.Println("Deleted.")
}
