// Command gridcli is the terminal client: it keeps month grids in a local
// snapshot, edits cells, and syncs with the expensegrid server when
// credentials are stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"expensegrid/internal/api"
	"expensegrid/internal/config"
	"expensegrid/internal/core"
	"expensegrid/internal/outbox"
	"expensegrid/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()

	var err error
	switch os.Args[1] {
	case "register":
		err = runRegister(cfg, os.Args[2:])
	case "login":
		err = runLogin(cfg, os.Args[2:])
	case "logout":
		err = runLogout(cfg)
	case "show":
		err = runShow(cfg, os.Args[2:])
	case "set":
		err = runSet(cfg, os.Args[2:])
	case "refresh":
		err = runRefresh(cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gridcli <command> [flags]

commands:
  register  -email <addr> -password <pw> [-name <name>]
  login     -email <addr> -password <pw>
  logout
  show      [-month 0..11] [-year <y>] [-prev] [-next]
  set       -day <d> -category <name> -amount <v> [-month 0..11] [-year <y>]
  refresh`)
}

func newClient(cfg *config.Config) (*api.Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("API_URL is not configured")
	}
	return api.NewClient(cfg.APIURL, api.NewTokenStore(cfg.TokenPath)), nil
}

// newStore wires the store with its remote and a running outbox when the
// API is configured. The returned cleanup drains and stops the outbox.
func newStore(cfg *config.Config) (*store.Store, func(), error) {
	var (
		remote store.RemoteClient
		queue  store.CellQueue
		box    *outbox.Outbox
	)
	if cfg.APIURL != "" {
		client, err := newClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		remote = client
		box = outbox.New(client, outbox.Config{
			Capacity:     cfg.OutboxSize,
			MaxRetries:   cfg.OutboxMaxRetries,
			PollInterval: time.Second,
		})
		if err := box.Start(context.Background()); err != nil {
			return nil, nil, err
		}
		queue = box
	}

	s := store.New(store.Options{
		SnapshotPath: cfg.SnapshotPath,
		Remote:       remote,
		Queue:        queue,
	})

	cleanup := func() {
		if box == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := box.Flush(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "warning: some edits are not synced yet")
		}
		_ = box.Stop(ctx)
	}
	return s, cleanup, nil
}

func runRegister(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "display name")
	fs.Parse(args)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	resp, err := client.Register(context.Background(), *email, *password, *name)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s\n", resp.User.Email)
	return nil
}

func runLogin(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	resp, err := client.Login(context.Background(), *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", resp.User.Email)
	return nil
}

func runLogout(cfg *config.Config) error {
	if err := api.NewTokenStore(cfg.TokenPath).Clear(); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func runShow(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	month := fs.Int("month", -1, "zero-based month")
	year := fs.Int("year", 0, "year")
	prev := fs.Bool("prev", false, "show the previous month")
	next := fs.Bool("next", false, "show the next month")
	fs.Parse(args)

	s, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if s.HasRemote() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			slog.Warn("Refresh failed, showing local data", "error", err)
		}
	}

	if *month >= 0 {
		y := *year
		if y == 0 {
			y = s.Year()
		}
		if err := s.SetMonth(*month, y); err != nil {
			return err
		}
	}
	if *prev {
		s.PrevMonth()
	}
	if *next {
		s.NextMonth()
	}

	printGrid(s)
	return nil
}

func runSet(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	day := fs.Int("day", 0, "day of month")
	category := fs.String("category", "", "category name")
	amount := fs.Float64("amount", 0, "absolute amount")
	month := fs.Int("month", -1, "zero-based month")
	year := fs.Int("year", 0, "year")
	fs.Parse(args)

	s, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if *month >= 0 {
		y := *year
		if y == 0 {
			y = s.Year()
		}
		if err := s.SetMonth(*month, y); err != nil {
			return err
		}
	}

	if err := s.UpdateExpense(*day, *category, *amount); err != nil {
		return err
	}
	fmt.Printf("set %d %s = %.2f\n", *day, *category, *amount)
	return nil
}

func runRefresh(cfg *config.Config) error {
	s, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	fmt.Println("refreshed")
	return nil
}

// printGrid writes the month as a table: days with any spending, their
// per-category amounts and the totals.
func printGrid(s *store.Store) {
	grid := s.Current()
	categories := core.CategorySet(grid)

	fmt.Printf("%s %d\n\n", time.Month(grid.Month+1), grid.Year)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprint(w, "Day")
	for _, name := range categories {
		fmt.Fprintf(w, "\t%s", name)
	}
	fmt.Fprintln(w, "\tTotal")

	for _, entry := range grid.Days {
		total := core.DailyTotal(entry)
		if total == 0 {
			continue
		}
		fmt.Fprintf(w, "%d", entry.Day)
		marker := ""
		for _, name := range categories {
			fmt.Fprintf(w, "\t%.0f", entry.Amounts[name])
			switch s.CellStatus(entry.Day, name) {
			case outbox.StatusPending:
				if marker == "" {
					marker = " *"
				}
			case outbox.StatusFailed:
				marker = " !"
			}
		}
		fmt.Fprintf(w, "\t%.0f%s\n", total, marker)
	}

	fmt.Fprint(w, "Total")
	for _, name := range categories {
		fmt.Fprintf(w, "\t%.0f", core.CategoryTotal(grid, name))
	}
	fmt.Fprintf(w, "\t%.0f\n", core.MonthlyTotal(grid))
	w.Flush()
}
