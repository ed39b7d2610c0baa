package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/akorchagin/passvault/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// register prompts for a username and password and creates a new account.
// The first account registered on an empty store also bootstraps the vault
// and becomes its admin.
func (a *App) register(ctx context.Context) {
	userName, err := getSimpleText(a.reader, "Choose a username", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	password, err := getPassword("Choose a password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(password)

	confirm, err := getPassword("Repeat password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(confirm)

	if string(password) != string(confirm) {
		fmt.Println("Passwords do not match.")
		return
	}

	u, err := a.session.Register(ctx, userName, password)
	if err != nil {
		printErr(err)
		return
	}

	fmt.Printf("Account %s created (%s).\n", u.Username, u.Role)
}

// login verifies the password against the stored verifier and unwraps the
// key material into memory. Failed attempts are rate limited.
func (a *App) login(ctx context.Context) {
	userName, err := getSimpleText(a.reader, "Username", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	password, err := getPassword("Password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(password)

	if err := a.session.Unlock(ctx, userName, password); err != nil {
		printErr(err)
		return
	}

	fmt.Println("Vault unlocked.")

	if a.syncer != nil {
		if _, err := a.syncer.Run(ctx); err != nil {
			a.setMode(ModeOffline)
		} else {
			a.setMode(ModeOnline)
		}
	}
}

// logout wipes the session keys from memory. Local data stays on disk,
// encrypted.
func (a *App) logout(ctx context.Context) {
	a.session.Lock(ctx)
	fmt.Println("Vault locked.")
}

// changePassword rewraps the personal key and every grant under a key
// derived from the new password. Record ciphertexts are untouched.
func (a *App) changePassword(ctx context.Context) {
	oldPassword, err := getPassword("Current password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(oldPassword)

	newPassword, err := getPassword("New password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(newPassword)

	confirm, err := getPassword("Repeat new password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(confirm)

	if string(newPassword) != string(confirm) {
		fmt.Println("Passwords do not match.")
		return
	}

	if err := a.session.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		printErr(err)
		return
	}
	fmt.Println("Password changed.")
}
