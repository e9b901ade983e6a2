package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

var systemRequester = repository.Requester{UID: profile.SystemUID, Package: "android"}

// runList loads the store read-only and prints one row per profile.
func runList(cfg *Config, logger *slog.Logger, out io.Writer) error {
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.repo.Load(); err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	printProfiles(out, a.repo.List(systemRequester))
	return nil
}

func printProfiles(out io.Writer, list []*profile.Profile) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSECURITY\tSTATUS\tAUTOJOIN\tOWNER\tLAST CONNECTED")
	for _, p := range list {
		last := "-"
		if !p.LastConnected.IsZero() {
			last = p.LastConnected.Local().Format("2006-01-02 15:04")
		}
		owner := "shared"
		if !p.Shared {
			owner = fmt.Sprintf("user %d", p.UserID())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			p.ID, p.Name(), p.DefaultSecurity, p.Status.Kind, p.AllowAutojoin, owner, last)
	}
	w.Flush()
}
