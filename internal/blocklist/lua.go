package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

// DefaultScriptTimeout bounds one call into a script.
const DefaultScriptTimeout = 100 * time.Millisecond

// LuaPolicy asks a script for each decision. The script defines
//
//	function decide(net, reason, count) return kind, seconds end
//
// where kind is "enabled", "temporarily-disabled" or "permanently-disabled".
// Returning nil, or failing, defers to the fallback policy.
type LuaPolicy struct {
	fallback *Thresholds
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // serializes access to L
	L      *lua.LState
	decide *lua.LFunction
}

// NewLuaPolicy loads script in a sandboxed VM.
func NewLuaPolicy(script string, fallback *Thresholds, logger *slog.Logger) (*LuaPolicy, error) {
	if fallback == nil {
		return nil, fmt.Errorf("lua policy needs a fallback")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "blocklist")

	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	// Sandbox
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "msg", L.CheckString(1))
		return 0
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	L.SetContext(ctx)
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("load blocklist script: %w", err)
	}
	L.RemoveContext()

	fn, ok := L.GetGlobal("decide").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("blocklist script does not define decide")
	}
	return &LuaPolicy{
		fallback: fallback,
		timeout:  DefaultScriptTimeout,
		logger:   logger,
		L:        L,
		decide:   fn,
	}, nil
}

// Decide implements repository.Blocklist.
func (lp *LuaPolicy) Decide(p *profile.Profile, reason profile.DisableReason) repository.Decision {
	d, ok, err := lp.call(p, reason)
	if err != nil {
		lp.logger.Warn("script decision failed, using thresholds", "key", p.Key(), "reason", reason, "err", err)
	}
	if !ok {
		return lp.fallback.Decide(p, reason)
	}
	return d
}

func (lp *LuaPolicy) call(p *profile.Profile, reason profile.DisableReason) (repository.Decision, bool, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	L := lp.L

	ctx, cancel := context.WithTimeout(context.Background(), lp.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()
	defer L.SetTop(0)

	net := L.NewTable()
	net.RawSetString("ssid", lua.LString(p.SSID))
	net.RawSetString("key", lua.LString(p.Key()))
	net.RawSetString("security", lua.LString(p.DefaultSecurity.String()))
	net.RawSetString("status", lua.LString(p.Status.Kind.String()))
	net.RawSetString("has_ever_connected", lua.LBool(p.HasEverConnected))
	net.RawSetString("num_association", lua.LNumber(p.NumAssociation))
	net.RawSetString("shared", lua.LBool(p.Shared))

	err := L.CallByParam(lua.P{Fn: lp.decide, NRet: 2, Protect: true},
		net, lua.LString(reason.String()), lua.LNumber(p.Status.Count(reason)+1))
	if err != nil {
		return repository.Decision{}, false, err
	}
	kindVal, secVal := L.Get(-2), L.Get(-1)
	if kindVal == lua.LNil {
		return repository.Decision{}, false, nil
	}

	var kind profile.StatusKind
	if err := kind.UnmarshalText([]byte(kindVal.String())); err != nil {
		return repository.Decision{}, false, err
	}
	d := repository.Decision{Kind: kind}
	if n, ok := secVal.(lua.LNumber); ok && n > 0 {
		d.Duration = time.Duration(float64(n) * float64(time.Second))
	}
	if kind == profile.StatusTemporarilyDisabled && d.Duration == 0 {
		return repository.Decision{}, false, fmt.Errorf("temporary disable without duration")
	}
	return d, true, nil
}

// Close releases the VM.
func (lp *LuaPolicy) Close() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.L.Close()
}

// New returns the policy cfg describes: a script when one is set, else
// plain thresholds.
func New(cfg Config, logger *slog.Logger) (repository.Blocklist, func(), error) {
	t, err := NewThresholds(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Script == "" {
		return t, func() {}, nil
	}
	lp, err := NewLuaPolicy(cfg.Script, t, logger)
	if err != nil {
		return nil, nil, err
	}
	return lp, lp.Close, nil
}
