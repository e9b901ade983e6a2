package main

import (
	"errors"
	"fmt"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wificonf/internal/access"
	"wificonf/internal/blocklist"
	"wificonf/internal/macderive"
	"wificonf/internal/metrics"
	"wificonf/internal/policy"
	"wificonf/internal/repository"
	"wificonf/internal/store"
)

// app holds an unloaded repository and the collaborators it was built
// from.
type app struct {
	repo     *repository.Repository
	store    *store.BoltStore
	auth     *access.Authority
	registry *prom.Registry
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openApp wires the repository to its store, MAC deriver, blocklist,
// access authority and metrics. The caller must Close it.
func openApp(cfg *Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{registry: prom.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sealer, err := cfg.sealer()
	if err != nil {
		return nil, err
	}
	if sealer == nil {
		logger.Warn("no store secret key configured, credentials are stored unsealed")
	}
	st, err := store.NewBoltStore(cfg.Store.Path, sealer, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("close store", "err", err)
		}
	})

	secret, err := macderive.LoadOrCreateSecret(cfg.MAC.SecretFile)
	if err != nil {
		return nil, err
	}
	deriver, err := macderive.New(secret)
	if err != nil {
		return nil, err
	}

	bl, closeBlocklist, err := blocklist.New(cfg.Blocklist, logger)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	a.closers = append(a.closers, closeBlocklist)

	auth, err := access.New(cfg.Access)
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	a.auth = auth

	pol := policy.Policy{}
	if cfg.PolicyFile != "" {
		if pol, err = policy.Load(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.repo = repository.New(cfg.repositoryConfig(), pol, repository.Deps{
		Permissions: auth,
		MacDeriver:  deriver,
		Blocklist:   bl,
		Store:       st,
		Passpoint:   st,
		Keystore:    st,
		Packages:    auth,
		Metrics:     metrics.NewRecorder(a.registry),
		Logger:      logger,
	})
	return a, nil
}

// errNothingImported is returned by import when every record was rejected.
var errNothingImported = errors.New("no profiles imported")
