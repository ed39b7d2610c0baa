package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/vault/models"
)

// grant wraps the vault master key for another registered user. The grantee
// must be present: the wrap is encrypted under a key derived from their
// password, which is verified before anything is written.
func (a *App) grant(ctx context.Context) {
	vaultID, err := a.session.DefaultVaultID(ctx)
	if err != nil {
		printErr(err)
		return
	}

	username, err := getSimpleText(a.reader, "Grantee username", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	levelStr, err := getSimpleText(a.reader, "Access level (admin/member)", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	var level models.Role
	switch levelStr {
	case "admin":
		level = models.RoleAdmin
	case "member", "":
		level = models.RoleMember
	default:
		fmt.Println("Access level must be 'admin' or 'member'.")
		return
	}

	fmt.Printf("Ask %s to type their password to receive the vault key.\n", username)
	granteePassword, err := getPassword("Grantee password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(granteePassword)

	if err := a.session.GrantAccess(ctx, vaultID, username, level, granteePassword); err != nil {
		printErr(err)
		return
	}
	fmt.Printf("Granted %s access to %s.\n", level, username)
}

// revoke removes a member's grant. The vault key is not rotated here; run
// 'rotate' afterwards to cut off a member who may have cached the key.
func (a *App) revoke(ctx context.Context) {
	vaultID, err := a.session.DefaultVaultID(ctx)
	if err != nil {
		printErr(err)
		return
	}

	username, err := getSimpleText(a.reader, "Username to revoke", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}

	target, err := a.session.FindUser(ctx, username)
	if err != nil {
		printErr(err)
		return
	}

	if err := a.session.RevokeAccess(ctx, vaultID, target.ID); err != nil {
		printErr(err)
		return
	}
	fmt.Printf("Revoked access for %s. Consider 'rotate' to retire the old key.\n", target.Username)
}

// rotate replaces the vault master key and re-encrypts every shared record
// under it. All other grants are dropped and must be re-issued.
func (a *App) rotate(ctx context.Context) {
	vaultID, err := a.session.DefaultVaultID(ctx)
	if err != nil {
		printErr(err)
		return
	}

	ok, err := GetYesNo(a.reader, "Rotating drops every other grant; members must be re-granted. Continue?", os.Stdout)
	if err != nil || !ok {
		return
	}

	password, err := getPassword("Your password", os.Stdout)
	if err != nil {
		printErr(err)
		return
	}
	defer common.WipeByteArray(password)

	if err := a.session.RotateVaultKey(ctx, vaultID, password); err != nil {
		printErr(err)
		return
	}
	fmt.Println("Vault key rotated. Re-grant access to other members as needed.")
}

// audit prints the most recent security events, newest first.
func (a *App) audit(ctx context.Context) {
	events, err := a.session.AuditTrail(ctx, 50)
	if err != nil {
		printErr(err)
		return
	}
	if len(events) == 0 {
		fmt.Println("No audit events.")
		return
	}

	for _, e := range events {
		details := ""
		if e.Details != "" {
			details = "  " + e.Details
		}
		fmt.Printf("%s  %-20s %-7s %s@%s%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Status, e.UserName, e.DeviceInfo, details)
	}
}
