package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// importFile is the document read by the import command.
type importFile struct {
	Profiles []importProfile `yaml:"profiles"`
}

type importProfile struct {
	SSID             string               `yaml:"ssid"`
	Security         profile.SecurityType `yaml:"security"`
	Hidden           bool                 `yaml:"hidden"`
	Shared           *bool                `yaml:"shared"`
	Autojoin         *bool                `yaml:"autojoin"`
	MacRandomization profile.MacSetting   `yaml:"mac_randomization"`
	Credentials      profile.Credentials  `yaml:"credentials"`
}

func (ip importProfile) toProfile() *profile.Profile {
	p := profile.New(ip.SSID, ip.Security)
	p.Hidden = ip.Hidden
	if ip.Shared != nil {
		p.Shared = *ip.Shared
	}
	if ip.Autojoin != nil {
		p.AllowAutojoin = *ip.Autojoin
	}
	p.MacRandomization = ip.MacRandomization
	p.Credentials = ip.Credentials
	return p
}

func parseImport(data []byte) ([]*profile.Profile, error) {
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}
	out := make([]*profile.Profile, 0, len(f.Profiles))
	for _, ip := range f.Profiles {
		out = append(out, ip.toProfile())
	}
	return out, nil
}

// runImport adds every profile in path on behalf of uid and flushes the
// result. Rejected records are reported and skipped.
func runImport(cfg *Config, logger *slog.Logger, path string, uid int, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	list, err := parseImport(data)
	if err != nil {
		return err
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.repo.Load(); err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	req := repository.Requester{UID: uid}
	if name, ok := a.auth.NameForUID(uid); ok {
		req.Package = name
	}
	imported := 0
	for _, p := range list {
		res, err := a.repo.AddOrUpdate(p, req)
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", p.Name(), err)
			continue
		}
		imported++
		verb := "updated"
		if res.IsNew {
			verb = "added"
		}
		fmt.Fprintf(out, "%s %s as %d\n", verb, p.Name(), res.ID)
	}
	if imported == 0 && len(list) > 0 {
		return errNothingImported
	}
	if err := a.repo.Flush(true); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
