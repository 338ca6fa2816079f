// Package guard is the SecurityGuard call surface. It owns the method table
// behind POST /v1/rpc: params binding and validation, authorization, and the
// mapping of component errors onto stable wire codes.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/auth"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/intel"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/metrics"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/traces"
	"github.com/mbd888/securityguard/internal/validation"
	"github.com/mbd888/securityguard/internal/walletscan"
	"github.com/mbd888/securityguard/internal/webhooks"
)

// Deps are the components behind the call surface.
type Deps struct {
	Engine     *risk.Engine
	Registry   *registry.Registry
	Thresholds *thresholds.Service
	State      *sysstate.Machine
	Intel      *intel.Aggregator
	Auditor    *audit.Auditor
	Wallets    *walletscan.Scanner
	Webhooks   *webhooks.Service
	AutoPause  bool
}

func (d Deps) validate() error {
	switch {
	case d.Engine == nil, d.Registry == nil, d.Thresholds == nil, d.State == nil:
		return errors.New("guard: engine, registry, thresholds and state are required")
	case d.Intel == nil, d.Auditor == nil, d.Wallets == nil, d.Webhooks == nil:
		return errors.New("guard: intel, auditor, wallets and webhooks are required")
	}
	return nil
}

// Access is who may call a method.
type Access string

const (
	Public        Access = "public"
	Authenticated Access = "authenticated"
	Privileged    Access = "privileged"
	OwnerOnly     Access = "owner"
)

// MethodInfo describes one method for listings.
type MethodInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Access      Access `json:"access"`
	Mutating    bool   `json:"mutating"`
}

type handlerFunc func(ctx context.Context, raw json.RawMessage) (any, error)

type method struct {
	info MethodInfo
	call handlerFunc
}

// Guard dispatches RPC calls.
type Guard struct {
	deps     Deps
	validate *validation.Validator
	methods  map[string]method
	now      func() time.Time
}

// New builds a Guard over deps.
func New(deps Deps) (*Guard, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	g := &Guard{deps: deps, validate: validation.New(), now: time.Now}
	g.methods = g.table()
	return g, nil
}

// Methods lists the method table sorted by name.
func (g *Guard) Methods() []MethodInfo {
	out := make([]MethodInfo, 0, len(g.methods))
	for _, m := range g.methods {
		out = append(out, m.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs one method. The caller, if any, comes from ctx (see
// auth.WithCaller). Errors are *Error values.
func (g *Guard) Call(ctx context.Context, name string, params json.RawMessage) (any, error) {
	m, ok := g.methods[name]
	if !ok {
		e := Classify(fmt.Errorf("%w: %q", ErrUnknownMethod, name))
		metrics.RPCCallsTotal.WithLabelValues("unknown", string(e.Code)).Inc()
		return nil, e
	}

	ctx, span := traces.StartSpan(ctx, "guard.Call", traces.Method(name))
	defer span.End()

	caller, _ := auth.CallerFrom(ctx)
	log := logging.L(ctx).With("method", name, "caller", caller)
	ctx = logging.WithLogger(ctx, log)

	result, err := m.call(ctx, params)
	if err != nil {
		e := Classify(err)
		span.SetStatus(codes.Error, string(e.Code))
		metrics.RPCCallsTotal.WithLabelValues(name, string(e.Code)).Inc()
		if e.Code == CodeInternal || e.Retryable() {
			log.Error("rpc call failed", "code", e.Code, "error", err)
		} else {
			log.Debug("rpc call rejected", "code", e.Code, "error", err)
		}
		return nil, e
	}
	metrics.RPCCallsTotal.WithLabelValues(name, "ok").Inc()
	if m.info.Mutating {
		log.Info("rpc call applied")
	}
	return result, nil
}

// bind decodes and validates P before handing it to fn.
func bind[P any](g *Guard, fn func(context.Context, P) (any, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
			}
		}
		if err := g.validate.Struct(p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

// -----------------------------------------------------------------------------
// Authorization
// -----------------------------------------------------------------------------

// authenticated returns the caller or ErrUnauthorized.
func (g *Guard) authenticated(ctx context.Context) (chain.Address, error) {
	caller, ok := auth.CallerFrom(ctx)
	if !ok {
		return "", ErrUnauthorized
	}
	return caller, nil
}

// privileged requires the owner or an operator.
func (g *Guard) privileged(ctx context.Context) (chain.Address, error) {
	caller, err := g.authenticated(ctx)
	if err != nil {
		return "", err
	}
	ok, err := g.deps.State.Authorized(ctx, caller)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnauthorized
	}
	return caller, nil
}

func (g *Guard) owner(ctx context.Context) (chain.Address, error) {
	caller, err := g.authenticated(ctx)
	if err != nil {
		return "", err
	}
	if caller != g.deps.State.Owner() {
		return "", ErrUnauthorized
	}
	return caller, nil
}

// selfOrPrivileged resolves target (defaulting to the caller) and requires
// the caller to be target or privileged.
func (g *Guard) selfOrPrivileged(ctx context.Context, target chain.Address) (caller, subject chain.Address, err error) {
	caller, err = g.authenticated(ctx)
	if err != nil {
		return "", "", err
	}
	if target == "" || target == caller {
		return caller, caller, nil
	}
	if _, err := g.privileged(ctx); err != nil {
		return "", "", err
	}
	return caller, target, nil
}
