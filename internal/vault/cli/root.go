package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/akorchagin/passvault/internal/common"
)

func (a *App) getStatus() string {
	s := ""
	if u, err := a.session.CurrentUser(); err == nil {
		s = u.Username + " "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// printErr maps the service sentinel errors to operator-friendly messages.
func printErr(err error) {
	switch {
	case errors.Is(err, common.ErrVaultLocked):
		fmt.Println("Vault is locked. Use 'login' first.")
	case errors.Is(err, common.ErrAuthFailure):
		fmt.Println("Authentication failed.")
	case errors.Is(err, common.ErrRateLimited):
		fmt.Println(err.Error())
	case errors.Is(err, common.ErrPolicy):
		fmt.Println("Forbidden:", err.Error())
	case errors.Is(err, common.ErrLastAdmin):
		fmt.Println("Refused: the vault must keep at least one admin.")
	case errors.Is(err, common.ErrAwaitingKey):
		fmt.Println("Record is present but its vault key has not reached this device yet. Run 'sync' after an admin re-grants access.")
	case errors.Is(err, common.ErrIntegrity):
		fmt.Println("Integrity check failed: the stored record is corrupted.")
	case errors.Is(err, common.ErrAuth):
		fmt.Println("Decryption failed: wrong key or tampered ciphertext.")
	case errors.Is(err, common.ErrTransport):
		fmt.Println("Remote unavailable, working offline.")
	case errors.Is(err, common.ErrNotFound):
		fmt.Println("Not found.")
	default:
		fmt.Println("Error:", err.Error())
	}
}

func (a *App) printHelp() {
	if a.session.Unlocked() {
		fmt.Println("Commands: add, list, show, update, delete, passwd, grant, revoke, rotate, sync, audit, backup, backups, restore, logout, exit")
	} else {
		fmt.Println("Commands: register, login, restore, exit")
	}
}

func (a *App) Root(ctx context.Context) {
	fmt.Println("Welcome to passvault (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("pv %s> ", a.getStatus())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			a.printHelp()

		case "register":
			a.register(ctx)
		case "login", "unlock":
			a.login(ctx)
		case "logout", "lock":
			a.logout(ctx)
		case "passwd":
			a.changePassword(ctx)

		case "add":
			a.add(ctx)
		case "list", "l":
			a.list(ctx)
		case "show":
			a.show(ctx, args)
		case "update":
			a.update(ctx, args)
		case "delete":
			a.delete(ctx, args)

		case "grant":
			a.grant(ctx)
		case "revoke":
			a.revoke(ctx)
		case "rotate":
			a.rotate(ctx)
		case "audit":
			a.audit(ctx)

		case "sync":
			a.sync(ctx)

		case "backup":
			a.backupNow(ctx)
		case "backups":
			a.backupList(ctx)
		case "restore":
			a.restore(ctx, args)

		case "exit", "quit":
			fmt.Println("Bye!")
			return

		default:
			fmt.Println("Unknown command:", cmd)
		}
	}
}
