package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/vault/models"
)

// add prompts for a new credential record. Shared is the default; a private
// record is encrypted under the owner's personal key and never leaves the
// owner's reach, even on a shared vault.
func (a *App) add(ctx context.Context) {
	service, err := getSimpleText(a.reader, "Service (e.g. gmail.com)", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	username, err := getSimpleText(a.reader, "Login for that service", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	password, err := getPassword("Secret value", os.Stdout)
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

	private, err := GetYesNo(a.reader, "Private (only you can ever read it)?", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	fields := models.SecretFields{Password: string(password), Notes: notes}
	rec, err := a.secrets.Add(ctx, service, username, fields, private)
	if err != nil {
		printErr(err)
		return
	}

	fmt.Printf("Saved #%d %s / %s\n", rec.ID, rec.Service, rec.Username)
}
