// Command admin performs one-off maintenance against the configured
// database.
//
//	admin init-db
//	admin create-admin -phone +77011234567
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/app"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"golang.org/x/term"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <init-db|create-admin> [flags]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	logger.Init(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "init-db":
		err = initDB(ctx, cfg)
	case "create-admin":
		err = createAdmin(ctx, cfg, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initDB creates the indexes, which the Mongo repositories do on
// construction, and seeds the reference data.
func initDB(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg, app.Options{RequireMongo: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if err := a.SeedReference(ctx); err != nil {
		return err
	}
	brands, err := a.Catalog.Brands(ctx, false, "", 0)
	if err != nil {
		return err
	}
	fmt.Printf("database %s initialised: %d car brands seeded\n", cfg.MongoDB.Database, len(brands))
	return nil
}

func createAdmin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	phone := fs.String("phone", "", "phone number of the administrator")
	_ = fs.Parse(args)
	if *phone == "" {
		return errors.New("-phone is required")
	}
	password, err := readPassword()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, app.Options{RequireMongo: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	u, created, err := a.EnsureAdmin(ctx, *phone, password)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("administrator %s created (id %s)\n", u.Phone, u.ID)
	} else {
		fmt.Printf("user %s promoted to administrator (id %s)\n", u.Phone, u.ID)
	}
	return nil
}

// readPassword prompts twice without echo on a terminal and reads one line
// from stdin otherwise.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
