// Command panelauth-seed creates the system roles and the first
// administrator in a fresh database. Running it again changes nothing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/panelauth/internal/appconfig"
	"github.com/MrEthical07/panelauth/internal/bootstrap"
	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/store/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "panelauth-seed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	admin := bootstrap.DefaultAdmin()
	var roles string

	fs := flag.NewFlagSet("panelauth-seed", flag.ContinueOnError)
	fs.StringVar(&admin.Username, "admin-username", admin.Username, "administrator username")
	fs.StringVar(&admin.Email, "admin-email", admin.Email, "administrator email")
	fs.StringVar(&admin.Password, "admin-password", "", "administrator password; generated when empty")
	fs.StringVar(&roles, "admin-roles", strings.Join(admin.Roles, ","), "comma separated roles for the administrator")

	// Arguments after "--" go to the shared config loader, e.g.
	//   panelauth-seed -admin-email ops@example.com -- -config panel.toml
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := appconfig.Load("panelauth-seed", fs.Args())
	if err != nil {
		return err
	}
	admin.Roles = splitRoles(roles)

	ctx := context.Background()
	log := logging.NewJSON(os.Stderr, cfg.Log.Level)

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return err
	}

	res, err := bootstrap.New(postgres.New(db), hasher, log).Run(ctx, admin)
	if err != nil {
		return err
	}

	for _, r := range res.RolesCreated {
		fmt.Printf("created role %s\n", r)
	}
	switch {
	case !res.AdminCreated:
		fmt.Println("users already exist; no administrator created")
	case res.GeneratedPassword != "":
		fmt.Printf("created administrator %s with password %s\n", res.AdminUsername, res.GeneratedPassword)
		fmt.Println("the password must be changed at first login")
	default:
		fmt.Printf("created administrator %s\n", res.AdminUsername)
	}
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
