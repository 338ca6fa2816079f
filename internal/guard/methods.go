package guard

import (
	"context"
	"fmt"

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/pagination"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/webhooks"
)

func (g *Guard) table() map[string]method {
	entries := []method{
		// Scanning
		{MethodInfo{"scan_transaction", "Score a transaction, apply the action policy and record the scan", Public, true}, bind(g, g.scanTransaction)},
		{MethodInfo{"simulate_transaction", "Dry-run a scan without recording it or pausing", Public, false}, bind(g, g.simulateTransaction)},
		{MethodInfo{"list_scans", "Page through recorded scans, newest first", Public, false}, bind(g, g.listScans)},
		{MethodInfo{"get_scan", "Fetch one recorded scan by id", Public, false}, bind(g, g.getScan)},

		// System state
		{MethodInfo{"get_system_status", "Pause state, owner, global thresholds and totals", Public, false}, bind(g, g.systemStatus)},
		{MethodInfo{"get_system_dashboard", "System status with recent scans, threat summary and latest transition", Public, false}, bind(g, g.systemDashboard)},
		{MethodInfo{"system_health_check", "Structural self-check of the deployment", Public, false}, bind(g, g.healthCheck)},
		{MethodInfo{"get_pause_history", "Most recent pause and resume transitions, oldest first", Public, false}, bind(g, g.pauseHistory)},
		{MethodInfo{"emergency_pause", "Pause the system with a reason", Privileged, true}, bind(g, g.emergencyPause)},
		{MethodInfo{"resume_system", "Resume the system with a justification", Privileged, true}, bind(g, g.resumeSystem)},

		// Registry
		{MethodInfo{"get_address_risk", "Registry status and score trend of an address", Public, false}, bind(g, g.addressRisk)},
		{MethodInfo{"get_address_profile", "Registry entry, score samples, trend and recent scans of an address", Public, false}, bind(g, g.addressProfile)},
		{MethodInfo{"get_blacklist", "List blacklisted addresses", Public, false}, bind(g, g.listMembership(registry.Blacklisted))},
		{MethodInfo{"get_whitelist", "List whitelisted addresses", Public, false}, bind(g, g.listMembership(registry.Whitelisted))},
		{MethodInfo{"blacklist_address", "Add an address to the blacklist", Privileged, true}, bind(g, g.blacklist)},
		{MethodInfo{"whitelist_address", "Add an address to the whitelist", Privileged, true}, bind(g, g.whitelist)},
		{MethodInfo{"track_address", "Track an address for score trends", Privileged, true}, bind(g, g.track)},
		{MethodInfo{"add_operator", "Grant operator rights", OwnerOnly, true}, bind(g, g.addOperator)},

		// Thresholds
		{MethodInfo{"update_thresholds", "Replace the global thresholds", Privileged, true}, bind(g, g.updateThresholds)},
		{MethodInfo{"set_custom_risk_thresholds", "Set per-user thresholds (self, or any user as operator)", Authenticated, true}, bind(g, g.setUserThresholds)},
		{MethodInfo{"get_user_thresholds", "Active thresholds for a user and whether they are custom", Public, false}, bind(g, g.userThresholds)},

		// Intelligence
		{MethodInfo{"get_threat_intelligence", "Current threat level and active signatures", Public, false}, bind(g, g.threatIntelligence)},
		{MethodInfo{"get_threat_summary", "Threat level breakdown over the rolling window", Public, false}, bind(g, g.threatSummary)},
		{MethodInfo{"analyze_patterns", "Signature frequencies, repeat offenders and threshold fit", Public, false}, bind(g, g.analyzePatterns)},
		{MethodInfo{"get_ai_recommendations", "Prioritized advisory actions", Public, false}, bind(g, g.recommendations)},
		{MethodInfo{"predict_threats_proactive", "Signature families trending upward", Public, false}, bind(g, g.predict)},

		// Webhooks
		{MethodInfo{"configure_webhook", "Set the threat webhook endpoint", Privileged, true}, bind(g, g.configureWebhook)},
		{MethodInfo{"get_webhook_config", "Current webhook configuration", Public, false}, bind(g, g.webhookConfig)},

		// Wallets
		{MethodInfo{"scan_wallet_security", "Analyze every counterparty of a wallet", Public, false}, bind(g, g.scanWallet)},
		{MethodInfo{"get_wallet_risk_dashboard", "Wallet scan, approval audit and trend", Public, false}, bind(g, g.walletDashboard)},
		{MethodInfo{"connect_wallet", "Track a wallet and return its profile", Authenticated, true}, bind(g, g.connectWallet)},
		{MethodInfo{"get_user_interaction_history", "Scans involving a wallet, newest first", Public, false}, bind(g, g.interactionHistory)},

		// Approvals
		{MethodInfo{"track_token_approval", "Score and record a token approval", Authenticated, true}, bind(g, g.trackApproval)},
		{MethodInfo{"check_dangerous_approvals", "Current approvals that are infinite or high risk", Public, false}, bind(g, g.dangerousApprovals)},
		{MethodInfo{"get_approval_safety_report", "Approval safety score and action items", Public, false}, bind(g, g.approvalSafety)},
		{MethodInfo{"get_approval_history", "Every approval a wallet recorded, oldest first", Public, false}, bind(g, g.approvalHistory)},

		// Contracts
		{MethodInfo{"register_dapp", "Watch a contract and profile it", Authenticated, true}, bind(g, g.registerDApp)},
		{MethodInfo{"add_contract_to_watch", "Watch a contract and profile it", Authenticated, true}, bind(g, g.registerDApp)},
		{MethodInfo{"rescan_dapp", "Refresh a watched contract's profile", Authenticated, true}, bind(g, g.rescanDApp)},
		{MethodInfo{"get_dapp_health_status", "Stored profiles of watched contracts", Public, false}, bind(g, g.dappHealth)},
		{MethodInfo{"monitor_dapp_contracts", "Rescan every watched contract", Authenticated, true}, bind(g, g.monitorDApps)},
		{MethodInfo{"get_contract_risk_profile", "Stored profile of a watched contract", Public, false}, bind(g, g.contractProfile)},
		{MethodInfo{"analyze_contract_before_interaction", "Score a contract from registry and history", Public, false}, bind(g, g.analyzeContract)},
		{MethodInfo{"get_safer_alternatives", "Lower-risk watched contracts of the same type", Public, false}, bind(g, g.saferAlternatives)},
	}

	table := make(map[string]method, len(entries))
	for _, m := range entries {
		table[m.info.Name] = m
	}
	return table
}

// -----------------------------------------------------------------------------
// Scanning
// -----------------------------------------------------------------------------

func (g *Guard) scanRequest(ctx context.Context, p TxParams) (risk.ScanRequest, error) {
	caller, _ := g.authenticated(ctx)
	req := risk.ScanRequest{Tx: p.transaction(), Caller: caller}
	if p.Bypass {
		if _, err := g.privileged(ctx); err != nil {
			return req, err
		}
		req.Bypass = true
	}
	return req, nil
}

func (g *Guard) scanTransaction(ctx context.Context, p TxParams) (any, error) {
	req, err := g.scanRequest(ctx, p)
	if err != nil {
		return nil, err
	}
	return g.deps.Engine.Scan(ctx, req)
}

func (g *Guard) simulateTransaction(ctx context.Context, p TxParams) (any, error) {
	req, err := g.scanRequest(ctx, p)
	if err != nil {
		return nil, err
	}
	return g.deps.Engine.Simulate(ctx, req)
}

func (g *Guard) listScans(ctx context.Context, p listScansParams) (any, error) {
	before, err := pagination.Decode(p.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.Limit(p.Limit)
	records, err := g.deps.Engine.History().List(ctx, risk.Query{Address: optional(p.Address), BeforeID: before, Limit: limit + 1})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrRegistryUnavailable, err)
	}
	return pagination.ComputePage(records, limit, func(r *risk.ScanRecord) int64 { return r.ScanID }), nil
}

func (g *Guard) getScan(ctx context.Context, p scanIDParams) (any, error) {
	return g.deps.Engine.History().Get(ctx, p.ScanID)
}

// -----------------------------------------------------------------------------
// System state
// -----------------------------------------------------------------------------

type stateChange struct {
	Transition *sysstate.Transition `json:"transition"`
	State      sysstate.State       `json:"state"`
	Paused     bool                 `json:"paused"`
}

func (g *Guard) emergencyPause(ctx context.Context, p reasonParams) (any, error) {
	caller, err := g.privileged(ctx)
	if err != nil {
		return nil, err
	}
	t, err := g.deps.State.Pause(ctx, caller, p.Reason)
	if err != nil {
		return nil, err
	}
	return stateChange{Transition: t, State: t.To, Paused: true}, nil
}

func (g *Guard) resumeSystem(ctx context.Context, p justificationParams) (any, error) {
	caller, err := g.privileged(ctx)
	if err != nil {
		return nil, err
	}
	t, err := g.deps.State.Resume(ctx, caller, p.Justification)
	if err != nil {
		return nil, err
	}
	return stateChange{Transition: t, State: t.To, Paused: false}, nil
}

func (g *Guard) pauseHistory(ctx context.Context, p transitionsParams) (any, error) {
	limit := p.Limit
	if limit == 0 {
		limit = 50
	}
	ts, err := g.deps.State.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		ts = []sysstate.Transition{}
	}
	return map[string]any{"transitions": ts, "count": len(ts)}, nil
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// AddressRisk is the result of get_address_risk.
type AddressRisk struct {
	Address     chain.Address      `json:"address"`
	Status      string             `json:"status"`
	Blacklisted bool               `json:"blacklisted"`
	Whitelisted bool               `json:"whitelisted"`
	Tracked     bool               `json:"tracked"`
	Operator    bool               `json:"operator"`
	Trend       registry.Trend     `json:"trend"`
	LastScore   *int               `json:"last_score,omitempty"`
	LastLevel   thresholds.Level   `json:"last_threat_level,omitempty"`
	Recent      []*risk.ScanRecord `json:"-"`
}

func (g *Guard) addressRisk(ctx context.Context, p addressParams) (any, error) {
	return g.loadAddressRisk(ctx, p.addr(), 1)
}

func (g *Guard) loadAddressRisk(ctx context.Context, addr chain.Address, recent int) (*AddressRisk, error) {
	e, err := g.deps.Registry.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	trend, err := g.deps.Registry.Trend(ctx, addr)
	if err != nil {
		return nil, err
	}
	records, err := g.deps.Engine.History().List(ctx, risk.Query{Address: addr, Limit: recent})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", risk.ErrRegistryUnavailable, err)
	}

	r := &AddressRisk{
		Address:     addr,
		Status:      "unlisted",
		Blacklisted: e.Blacklisted,
		Whitelisted: e.Whitelisted,
		Tracked:     e.Tracked,
		Operator:    e.Operator,
		Trend:       trend,
		Recent:      records,
	}
	switch {
	case e.Blacklisted:
		r.Status = "blacklisted"
	case e.Whitelisted:
		r.Status = "whitelisted"
	}
	if len(records) > 0 {
		score := records[0].RiskScore
		r.LastScore = &score
		r.LastLevel = records[0].ThreatLevel
	}
	return r, nil
}

// AddressProfile is the result of get_address_profile.
type AddressProfile struct {
	*AddressRisk
	Samples     []registry.Sample  `json:"samples"`
	RecentScans []*risk.ScanRecord `json:"recent_scans"`
}

func (g *Guard) addressProfile(ctx context.Context, p addressParams) (any, error) {
	r, err := g.loadAddressRisk(ctx, p.addr(), 10)
	if err != nil {
		return nil, err
	}
	samples, err := g.deps.Registry.Samples(ctx, p.addr())
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []registry.Sample{}
	}
	recent := r.Recent
	if recent == nil {
		recent = []*risk.ScanRecord{}
	}
	return AddressProfile{AddressRisk: r, Samples: samples, RecentScans: recent}, nil
}

type addressList struct {
	List      registry.Membership `json:"list"`
	Addresses []chain.Address     `json:"addresses"`
	Count     int                 `json:"count"`
}

func (g *Guard) listMembership(m registry.Membership) func(context.Context, none) (any, error) {
	return func(ctx context.Context, _ none) (any, error) {
		entries, err := g.deps.Registry.List(ctx, m)
		if err != nil {
			return nil, err
		}
		out := addressList{List: m, Addresses: make([]chain.Address, 0, len(entries))}
		for _, e := range entries {
			out.Addresses = append(out.Addresses, e.Address)
		}
		out.Count = len(out.Addresses)
		return out, nil
	}
}

func (g *Guard) blacklist(ctx context.Context, p addressParams) (any, error) {
	if _, err := g.privileged(ctx); err != nil {
		return nil, err
	}
	return g.deps.Registry.Blacklist(ctx, p.addr())
}

func (g *Guard) whitelist(ctx context.Context, p addressParams) (any, error) {
	if _, err := g.privileged(ctx); err != nil {
		return nil, err
	}
	return g.deps.Registry.Whitelist(ctx, p.addr())
}

func (g *Guard) track(ctx context.Context, p addressParams) (any, error) {
	if _, err := g.privileged(ctx); err != nil {
		return nil, err
	}
	return g.deps.Registry.Track(ctx, p.addr())
}

func (g *Guard) addOperator(ctx context.Context, p addressParams) (any, error) {
	if _, err := g.owner(ctx); err != nil {
		return nil, err
	}
	return g.deps.Registry.AddOperator(ctx, p.addr())
}

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

type globalThresholds struct {
	thresholds.Set
	UpdatedBy chain.Address `json:"updated_by"`
}

func (g *Guard) updateThresholds(ctx context.Context, p thresholdParams) (any, error) {
	caller, err := g.privileged(ctx)
	if err != nil {
		return nil, err
	}
	set := p.set()
	if err := g.deps.Thresholds.SetGlobal(ctx, set, caller); err != nil {
		return nil, err
	}
	return globalThresholds{Set: set, UpdatedBy: caller}, nil
}

func (g *Guard) setUserThresholds(ctx context.Context, p userThresholdParams) (any, error) {
	_, user, err := g.selfOrPrivileged(ctx, optional(p.User))
	if err != nil {
		return nil, err
	}
	caller, _ := g.authenticated(ctx)
	return g.deps.Thresholds.SetUser(ctx, user, p.set(), caller)
}

// UserThresholds is the result of get_user_thresholds.
type UserThresholds struct {
	User     chain.Address     `json:"user"`
	Critical int               `json:"critical"`
	High     int               `json:"high"`
	Medium   int               `json:"medium"`
	Status   thresholds.Status `json:"status"`
	Source   thresholds.Source `json:"source"`
	SetBy    chain.Address     `json:"set_by,omitempty"`
}

func (g *Guard) userThresholds(ctx context.Context, p userParams) (any, error) {
	user := mustParse(p.User)
	r, err := g.deps.Thresholds.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	return UserThresholds{
		User:     user,
		Critical: r.Set.Critical,
		High:     r.Set.High,
		Medium:   r.Set.Medium,
		Status:   r.Status(),
		Source:   r.Source,
		SetBy:    r.SetBy,
	}, nil
}

// -----------------------------------------------------------------------------
// Intelligence
// -----------------------------------------------------------------------------

func (g *Guard) threatIntelligence(ctx context.Context, _ none) (any, error) {
	return g.deps.Intel.Intelligence(ctx)
}

func (g *Guard) threatSummary(ctx context.Context, _ none) (any, error) {
	return g.deps.Intel.Summary(ctx)
}

func (g *Guard) analyzePatterns(ctx context.Context, _ none) (any, error) {
	return g.deps.Intel.Patterns(ctx)
}

func (g *Guard) recommendations(ctx context.Context, _ none) (any, error) {
	return g.deps.Intel.Recommend(ctx)
}

func (g *Guard) predict(ctx context.Context, _ none) (any, error) {
	return g.deps.Intel.Predict(ctx)
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

func (g *Guard) configureWebhook(ctx context.Context, p webhookParams) (any, error) {
	caller, err := g.privileged(ctx)
	if err != nil {
		return nil, err
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return g.deps.Webhooks.Configure(ctx, webhooks.Update{
		URL:              p.URL,
		Enabled:          enabled,
		MinRiskThreshold: p.MinRiskThreshold,
		Secret:           p.Secret,
	}, caller)
}

func (g *Guard) webhookConfig(ctx context.Context, _ none) (any, error) {
	return g.deps.Webhooks.Get(ctx)
}

// -----------------------------------------------------------------------------
// Wallets
// -----------------------------------------------------------------------------

func (g *Guard) scanWallet(ctx context.Context, p walletParams) (any, error) {
	return g.deps.Wallets.Scan(ctx, p.addr())
}

func (g *Guard) walletDashboard(ctx context.Context, p walletParams) (any, error) {
	return g.deps.Wallets.Dashboard(ctx, p.addr())
}

func (g *Guard) connectWallet(ctx context.Context, p optionalWallet) (any, error) {
	_, wallet, err := g.selfOrPrivileged(ctx, optional(p.Wallet))
	if err != nil {
		return nil, err
	}
	return g.deps.Wallets.Connect(ctx, wallet)
}

func (g *Guard) interactionHistory(ctx context.Context, p historyParams) (any, error) {
	return g.deps.Wallets.Interactions(ctx, mustParse(p.Wallet), p.Cursor, p.Limit)
}

// -----------------------------------------------------------------------------
// Approvals
// -----------------------------------------------------------------------------

func (g *Guard) trackApproval(ctx context.Context, p approvalParams) (any, error) {
	_, wallet, err := g.selfOrPrivileged(ctx, optional(p.Wallet))
	if err != nil {
		return nil, err
	}
	return g.deps.Auditor.TrackApproval(ctx, wallet, mustParse(p.Token), mustParse(p.Spender), p.Amount)
}

func (g *Guard) dangerousApprovals(ctx context.Context, p walletParams) (any, error) {
	return g.deps.Auditor.CheckDangerous(ctx, p.addr())
}

func (g *Guard) approvalSafety(ctx context.Context, p walletParams) (any, error) {
	return g.deps.Auditor.SafetyReport(ctx, p.addr())
}

func (g *Guard) approvalHistory(ctx context.Context, p walletParams) (any, error) {
	trail, err := g.deps.Auditor.ApprovalTrail(ctx, p.addr())
	if err != nil {
		return nil, err
	}
	if trail == nil {
		trail = []*audit.Approval{}
	}
	return map[string]any{"wallet": p.addr(), "approvals": trail, "count": len(trail)}, nil
}

// -----------------------------------------------------------------------------
// Contracts
// -----------------------------------------------------------------------------

func (g *Guard) registerDApp(ctx context.Context, p dappParams) (any, error) {
	caller, err := g.authenticated(ctx)
	if err != nil {
		return nil, err
	}
	return g.deps.Auditor.Register(ctx, mustParse(p.Address), p.Name, p.Type, caller)
}

func (g *Guard) rescanDApp(ctx context.Context, p addressParams) (any, error) {
	if _, err := g.authenticated(ctx); err != nil {
		return nil, err
	}
	return g.deps.Auditor.Rescan(ctx, p.addr())
}

func (g *Guard) dappHealth(ctx context.Context, _ none) (any, error) {
	return g.deps.Auditor.Health(ctx)
}

func (g *Guard) monitorDApps(ctx context.Context, _ none) (any, error) {
	if _, err := g.authenticated(ctx); err != nil {
		return nil, err
	}
	return g.deps.Auditor.Monitor(ctx)
}

func (g *Guard) contractProfile(ctx context.Context, p addressParams) (any, error) {
	return g.deps.Auditor.DApp(ctx, p.addr())
}

func (g *Guard) analyzeContract(ctx context.Context, p addressParams) (any, error) {
	return g.deps.Auditor.Analyze(ctx, p.addr())
}

func (g *Guard) saferAlternatives(ctx context.Context, p addressParams) (any, error) {
	alts, err := g.deps.Auditor.Alternatives(ctx, p.addr())
	if err != nil {
		return nil, err
	}
	if alts == nil {
		alts = []*audit.DApp{}
	}
	return map[string]any{"address": p.addr(), "alternatives": alts, "count": len(alts)}, nil
}
