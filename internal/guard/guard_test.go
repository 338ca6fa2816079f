package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/auth"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/intel"
	"github.com/mbd888/securityguard/internal/policy"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/walletscan"
	"github.com/mbd888/securityguard/internal/webhooks"
)

const (
	ownerAddr    = "0x0000000000000000000000000000000000000a11"
	operatorAddr = "0x0000000000000000000000000000000000000b22"
	userAddr     = "0xa11ce00000000000000000000000000000000001"
	otherAddr    = "0x0de0000000000000000000000000000000000004"
	cleanAddr    = "0xc1ea000000000000000000000000000000000004"
	badAddr      = "0xbad0000000000000000000000000000000000002"
	tokenAddr    = "0x70ce000000000000000000000000000000000005"
	spenderAddr  = "0x5be0000000000000000000000000000000000003"
	maxUint256   = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
)

type fixture struct {
	router   *gin.Engine
	guard    *Guard
	registry *registry.Registry
	state    *sysstate.Machine
	keys     map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.NewMemoryStore())
	th := thresholds.NewService(thresholds.NewMemoryStore(), thresholds.Default())
	state := sysstate.New(sysstate.NewMemoryStore(), chain.MustAddress(ownerAddr), reg)
	history := risk.NewMemoryHistory()
	engine := risk.NewEngine(detector.Default(), reg, th, policy.NewEngine(state, true), history)
	store := audit.NewMemoryStore()
	aud := audit.New(store, store, detector.Default(), reg, th, history)

	g, err := New(Deps{
		Engine:     engine,
		Registry:   reg,
		Thresholds: th,
		State:      state,
		Intel:      intel.New(history, reg, th),
		Auditor:    aud,
		Wallets:    walletscan.New(aud, reg, history),
		Webhooks:   webhooks.NewService(webhooks.NewMemoryStore()),
		AutoPause:  true,
	})
	require.NoError(t, err)

	mgr := auth.NewManager(auth.NewMemoryStore(), "")
	keys := map[string]string{}
	for _, addr := range []string{ownerAddr, operatorAddr, userAddr, otherAddr} {
		raw, _, err := mgr.GenerateKey(context.Background(), chain.MustAddress(addr), "test")
		require.NoError(t, err)
		keys[addr] = raw
	}
	_, err = reg.AddOperator(context.Background(), chain.MustAddress(operatorAddr))
	require.NoError(t, err)

	r := gin.New()
	v1 := r.Group("/v1", auth.Middleware(mgr))
	g.RegisterRoutes(v1)
	return &fixture{router: r, guard: g, registry: reg, state: state, keys: keys}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call posts method as caller ("" for anonymous).
func (f *fixture) call(t *testing.T, caller, method string, params any) (int, rpcResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+f.keys[caller])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

// ok calls method and decodes the result into out.
func (f *fixture) ok(t *testing.T, caller, method string, params, out any) {
	t.Helper()
	code, resp := f.call(t, caller, method, params)
	require.Nil(t, resp.Error, "%s failed: %+v", method, resp.Error)
	require.Equal(t, http.StatusOK, code)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Result, out))
	}
}

// fails calls method and asserts the wire error code.
func (f *fixture) fails(t *testing.T, caller, method string, params any, want Code) string {
	t.Helper()
	_, resp := f.call(t, caller, method, params)
	require.NotNil(t, resp.Error, "%s unexpectedly succeeded", method)
	assert.Equal(t, want, resp.Error.Code, resp.Error.Message)
	return resp.Error.Message
}

func tx(from, to string) map[string]any {
	return map[string]any{"from": from, "to": to, "value": "0", "calldata": "0x"}
}

// Scenario A: a clean transaction between unlisted addresses is allowed.
func TestScenario_CleanTransactionAllowed(t *testing.T) {
	f := newFixture(t)

	var rec risk.ScanRecord
	f.ok(t, "", "scan_transaction", tx(userAddr, cleanAddr), &rec)
	assert.Contains(t, []thresholds.Level{thresholds.Low, thresholds.None}, rec.ThreatLevel)
	assert.Equal(t, policy.Allowed, rec.ActionTaken)
	assert.False(t, rec.SystemPaused)
	assert.Equal(t, int64(1), rec.ScanID)

	var status Status
	f.ok(t, "", "get_system_status", nil, &status)
	assert.False(t, status.Paused)
	assert.Equal(t, int64(1), status.Statistics.TotalScans)
}

// Scenario B: a blacklisted recipient triggers the emergency pause.
func TestScenario_BlacklistedRecipientPauses(t *testing.T) {
	f := newFixture(t)
	f.ok(t, operatorAddr, "blacklist_address", map[string]any{"address": badAddr}, nil)

	var rec risk.ScanRecord
	f.ok(t, "", "scan_transaction", tx(userAddr, badAddr), &rec)
	assert.GreaterOrEqual(t, rec.RiskScore, 90)
	assert.Equal(t, thresholds.Critical, rec.ThreatLevel)
	assert.Equal(t, policy.EmergencyPause, rec.ActionTaken)
	assert.True(t, rec.PausedThisScan)

	var status Status
	f.ok(t, "", "get_system_status", nil, &status)
	assert.True(t, status.Paused)
	assert.Equal(t, sysstate.Paused, status.State)
	assert.Equal(t, int64(1), status.Statistics.TotalPauses)

	f.ok(t, "", "scan_transaction", tx(userAddr, cleanAddr), &rec)
	assert.Equal(t, policy.Blocked, rec.ActionTaken)
}

// Scenario C: user thresholds are stored exactly and leave the global set
// alone.
func TestScenario_UserThresholds(t *testing.T) {
	f := newFixture(t)
	f.ok(t, userAddr, "set_custom_risk_thresholds", map[string]any{"critical": 60, "high": 40, "medium": 20}, nil)

	var got UserThresholds
	f.ok(t, "", "get_user_thresholds", map[string]any{"user": userAddr}, &got)
	assert.Equal(t, 60, got.Critical)
	assert.Equal(t, 40, got.High)
	assert.Equal(t, 20, got.Medium)
	assert.Equal(t, thresholds.StatusCustom, got.Status)
	assert.Equal(t, chain.Address(userAddr), got.SetBy)

	var status Status
	f.ok(t, "", "get_system_status", nil, &status)
	assert.Equal(t, thresholds.Default(), status.Thresholds)

	f.ok(t, "", "get_user_thresholds", map[string]any{"user": otherAddr}, &got)
	assert.Equal(t, thresholds.StatusDefault, got.Status)
	assert.Equal(t, 85, got.Critical)
}

// Scenario D: a max-uint approval is infinite and reported as dangerous.
func TestScenario_InfiniteApprovalIsDangerous(t *testing.T) {
	f := newFixture(t)

	var ap audit.Approval
	f.ok(t, userAddr, "track_token_approval", map[string]any{
		"token": tokenAddr, "spender": spenderAddr, "amount": maxUint256,
	}, &ap)
	assert.True(t, ap.IsInfinite)
	assert.Equal(t, chain.Address(userAddr), ap.Wallet)

	var report audit.DangerReport
	f.ok(t, "", "check_dangerous_approvals", map[string]any{"wallet": userAddr}, &report)
	assert.GreaterOrEqual(t, report.DangerousApprovalsFound, 1)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		caller string
		method string
		params any
	}{
		{"anonymous pause", "", "emergency_pause", map[string]any{"reason": "x"}},
		{"user pause", userAddr, "emergency_pause", map[string]any{"reason": "x"}},
		{"user blacklist", userAddr, "blacklist_address", map[string]any{"address": badAddr}},
		{"operator adds operator", operatorAddr, "add_operator", map[string]any{"address": userAddr}},
		{"user global thresholds", userAddr, "update_thresholds", map[string]any{"critical": 90, "high": 80, "medium": 70}},
		{"user sets another user's thresholds", userAddr, "set_custom_risk_thresholds", map[string]any{"user": otherAddr, "critical": 60, "high": 40, "medium": 20}},
		{"anonymous approval", "", "track_token_approval", map[string]any{"token": tokenAddr, "spender": spenderAddr, "amount": "1"}},
		{"approval for another wallet", userAddr, "track_token_approval", map[string]any{"wallet": otherAddr, "token": tokenAddr, "spender": spenderAddr, "amount": "1"}},
		{"anonymous dapp", "", "register_dapp", map[string]any{"address": cleanAddr, "name": "x"}},
		{"user bypass", userAddr, "scan_transaction", map[string]any{"from": userAddr, "to": cleanAddr, "bypass": true}},
		{"user webhook", userAddr, "configure_webhook", map[string]any{"url": "https://hooks.example.com/x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := f.fails(t, tc.caller, tc.method, tc.params, CodeUnauthorized)
			assert.Equal(t, "unauthorized", msg)
		})
	}

	// Nothing changed.
	e, err := f.registry.Get(context.Background(), chain.MustAddress(badAddr))
	require.NoError(t, err)
	assert.False(t, e.Blacklisted)
	snap, err := f.state.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Paused())
}

func TestPrivilegedCalls(t *testing.T) {
	f := newFixture(t)

	f.ok(t, ownerAddr, "add_operator", map[string]any{"address": userAddr}, nil)
	f.ok(t, operatorAddr, "set_custom_risk_thresholds", map[string]any{"user": otherAddr, "critical": 60, "high": 40, "medium": 20}, nil)
	f.ok(t, operatorAddr, "track_token_approval", map[string]any{"wallet": otherAddr, "token": tokenAddr, "spender": spenderAddr, "amount": "1"}, nil)

	var status Status
	f.ok(t, operatorAddr, "update_thresholds", map[string]any{"critical": 90, "high": 75, "medium": 40}, nil)
	f.ok(t, "", "get_system_status", nil, &status)
	assert.Equal(t, thresholds.Set{Critical: 90, High: 75, Medium: 40}, status.Thresholds)
	assert.Equal(t, 2, status.OperatorCount)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)

	f.fails(t, ownerAddr, "resume_system", map[string]any{"justification": "nothing to resume"}, CodeInvalidState)
	f.fails(t, ownerAddr, "emergency_pause", map[string]any{"reason": "  "}, CodeInvalidReason)

	var change stateChange
	f.ok(t, ownerAddr, "emergency_pause", map[string]any{"reason": "incident 42"}, &change)
	assert.True(t, change.Paused)
	assert.Equal(t, "incident 42", change.Transition.Reason)

	f.fails(t, operatorAddr, "emergency_pause", map[string]any{"reason": "again"}, CodeInvalidState)

	// Operators may scan through a pause.
	var rec risk.ScanRecord
	f.ok(t, operatorAddr, "scan_transaction", map[string]any{"from": userAddr, "to": cleanAddr, "bypass": true}, &rec)
	assert.Equal(t, policy.Bypassed, rec.ActionTaken)

	f.ok(t, operatorAddr, "resume_system", map[string]any{"justification": "patched"}, &change)
	assert.False(t, change.Paused)

	var hist struct {
		Transitions []sysstate.Transition `json:"transitions"`
		Count       int                   `json:"count"`
	}
	f.ok(t, "", "get_pause_history", nil, &hist)
	require.Equal(t, 2, hist.Count)
	assert.Equal(t, sysstate.Paused, hist.Transitions[0].To)
	assert.Equal(t, sysstate.Active, hist.Transitions[1].To)

	var dash Dashboard
	f.ok(t, "", "get_system_dashboard", nil, &dash)
	require.NotNil(t, dash.LastTransition)
	assert.Equal(t, sysstate.Active, dash.LastTransition.To)
	assert.Len(t, dash.RecentScans, 1)
}

func TestErrorCodes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		caller string
		method string
		params any
		code   Code
		status int
	}{
		{"unknown method", "", "mint_tokens", nil, CodeMethodNotFound, http.StatusNotFound},
		{"bad recipient", "", "scan_transaction", tx(userAddr, "0x1234"), CodeInvalidTransaction, http.StatusBadRequest},
		{"missing recipient", "", "scan_transaction", map[string]any{"from": userAddr}, CodeInvalidParams, http.StatusBadRequest},
		{"bad address param", "", "get_address_risk", map[string]any{"address": "nope"}, CodeInvalidAddress, http.StatusBadRequest},
		{"inverted thresholds", userAddr, "set_custom_risk_thresholds", map[string]any{"critical": 20, "high": 40, "medium": 60}, CodeInvalidThresholds, http.StatusBadRequest},
		{"missing thresholds", userAddr, "set_custom_risk_thresholds", map[string]any{"critical": 20}, CodeInvalidParams, http.StatusBadRequest},
		{"bad amount", userAddr, "track_token_approval", map[string]any{"token": tokenAddr, "spender": spenderAddr, "amount": "-1"}, CodeInvalidParams, http.StatusBadRequest},
		{"missing scan", "", "get_scan", map[string]any{"scan_id": 99}, CodeNotFound, http.StatusNotFound},
		{"bad cursor", "", "list_scans", map[string]any{"cursor": "!!"}, CodeInvalidParams, http.StatusBadRequest},
		{"unwatched contract", "", "get_contract_risk_profile", map[string]any{"address": cleanAddr}, CodeNotFound, http.StatusNotFound},
		{"params not an object", "", "get_scan", []int{1}, CodeInvalidParams, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := f.call(t, tc.caller, tc.method, tc.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code, resp.Error.Message)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestHandleRPC_MalformedBody(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`not json`, `{"params": {}}`} {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/rpc", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), string(CodeInvalidParams))
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", bytes.NewBufferString(`{"method":"get_system_status"}`))
	req.Header.Set("Authorization", "Bearer sk_bogus")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistryRoundTrip(t *testing.T) {
	f := newFixture(t)

	f.ok(t, ownerAddr, "blacklist_address", map[string]any{"address": badAddr}, nil)
	f.ok(t, ownerAddr, "whitelist_address", map[string]any{"address": badAddr}, nil)

	var list addressList
	f.ok(t, "", "get_blacklist", nil, &list)
	assert.Zero(t, list.Count)
	f.ok(t, "", "get_whitelist", nil, &list)
	assert.Equal(t, []chain.Address{badAddr}, list.Addresses)

	var ar AddressRisk
	f.ok(t, "", "get_address_risk", map[string]any{"address": badAddr}, &ar)
	assert.Equal(t, "whitelisted", ar.Status)
	assert.Equal(t, registry.InsufficientData, ar.Trend.Direction)
	assert.Nil(t, ar.LastScore)

	f.ok(t, "", "scan_transaction", tx(userAddr, badAddr), nil)
	var profile struct {
		Status      string             `json:"status"`
		LastScore   *int               `json:"last_score"`
		Samples     []registry.Sample  `json:"samples"`
		RecentScans []*risk.ScanRecord `json:"recent_scans"`
	}
	f.ok(t, "", "get_address_profile", map[string]any{"address": badAddr}, &profile)
	assert.Equal(t, "whitelisted", profile.Status)
	require.NotNil(t, profile.LastScore)
	assert.Len(t, profile.Samples, 1)
	assert.Len(t, profile.RecentScans, 1)
}

func TestScan_MalformedValueIsScored(t *testing.T) {
	f := newFixture(t)
	var rec risk.ScanRecord
	f.ok(t, "", "scan_transaction", map[string]any{"from": userAddr, "to": cleanAddr, "value": "lots"}, &rec)
	assert.Equal(t, "0", rec.Value)
	assert.Contains(t, rec.Explanation, "input partially parsed")
}

func TestScanListing(t *testing.T) {
	f := newFixture(t)
	for range 5 {
		f.ok(t, "", "scan_transaction", tx(userAddr, cleanAddr), nil)
	}
	f.ok(t, "", "scan_transaction", tx(otherAddr, cleanAddr), nil)

	var page struct {
		Items      []*risk.ScanRecord `json:"items"`
		NextCursor string             `json:"next_cursor"`
		HasMore    bool               `json:"has_more"`
	}
	f.ok(t, "", "list_scans", map[string]any{"limit": 4}, &page)
	require.Len(t, page.Items, 4)
	assert.Equal(t, int64(6), page.Items[0].ScanID)
	assert.True(t, page.HasMore)

	f.ok(t, "", "list_scans", map[string]any{"limit": 4, "cursor": page.NextCursor}, &page)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)

	f.ok(t, "", "get_user_interaction_history", map[string]any{"wallet": otherAddr}, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(6), page.Items[0].ScanID)

	var rec risk.ScanRecord
	f.ok(t, "", "get_scan", map[string]any{"scan_id": 3}, &rec)
	assert.Equal(t, int64(3), rec.ScanID)
}

func TestSimulateDoesNotRecord(t *testing.T) {
	f := newFixture(t)
	f.ok(t, ownerAddr, "blacklist_address", map[string]any{"address": badAddr}, nil)

	var sim risk.Simulation
	f.ok(t, "", "simulate_transaction", tx(userAddr, badAddr), &sim)
	assert.Equal(t, thresholds.Critical, sim.ThreatLevel)
	assert.False(t, sim.WillSucceed)

	var status Status
	f.ok(t, "", "get_system_status", nil, &status)
	assert.False(t, status.Paused)
	assert.Zero(t, status.Statistics.TotalScans)
}

func TestIntelligenceMethods(t *testing.T) {
	f := newFixture(t)
	f.ok(t, "", "scan_transaction", tx(userAddr, cleanAddr), nil)

	for _, m := range []string{"get_threat_summary", "analyze_patterns", "get_ai_recommendations", "predict_threats_proactive"} {
		var out struct {
			Status intel.Status `json:"status"`
		}
		f.ok(t, "", m, nil, &out)
		assert.Equal(t, intel.StatusInsufficientData, out.Status, m)
	}

	var ti intel.Intelligence
	f.ok(t, "", "get_threat_intelligence", nil, &ti)
	assert.Equal(t, thresholds.None, ti.ThreatLevel)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	var report intel.HealthReport
	f.ok(t, "", "system_health_check", nil, &report)
	assert.True(t, report.SystemReady)
	assert.Less(t, report.HealthScore, 100)

	f.ok(t, ownerAddr, "configure_webhook", map[string]any{"url": "https://hooks.example.com/guard", "secret": "s3cret"}, nil)
	var cfg webhooks.Config
	f.ok(t, "", "get_webhook_config", nil, &cfg)
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.HasSecret)
	assert.Empty(t, cfg.Secret)

	var after intel.HealthReport
	f.ok(t, "", "system_health_check", nil, &after)
	assert.Greater(t, after.HealthScore, report.HealthScore)

	f.fails(t, ownerAddr, "configure_webhook", map[string]any{"url": "http://127.0.0.1/x"}, CodeInvalidParams)
}

func TestWalletAndContractMethods(t *testing.T) {
	f := newFixture(t)

	var profile walletscan.Profile
	f.ok(t, userAddr, "connect_wallet", nil, &profile)
	assert.Equal(t, chain.Address(userAddr), profile.Wallet)
	assert.True(t, profile.Entry.Tracked)

	f.ok(t, userAddr, "register_dapp", map[string]any{"address": cleanAddr, "name": "SwapX", "type": "dex"}, nil)
	f.ok(t, userAddr, "add_contract_to_watch", map[string]any{"address": otherAddr, "name": "SwapY", "type": "dex"}, nil)
	f.ok(t, userAddr, "rescan_dapp", map[string]any{"address": cleanAddr}, nil)

	var d audit.DApp
	f.ok(t, "", "get_contract_risk_profile", map[string]any{"address": cleanAddr}, &d)
	assert.Equal(t, "SwapX", d.Name)
	assert.Equal(t, chain.Address(userAddr), d.RegisteredBy)

	var health audit.HealthStatus
	f.ok(t, "", "get_dapp_health_status", nil, &health)
	assert.Equal(t, 2, health.TotalMonitored)
	f.fails(t, "", "monitor_dapp_contracts", nil, CodeUnauthorized)
	f.ok(t, userAddr, "monitor_dapp_contracts", nil, &health)
	assert.Equal(t, 2, health.TotalMonitored)

	var analysis audit.Analysis
	f.ok(t, "", "analyze_contract_before_interaction", map[string]any{"address": cleanAddr}, &analysis)
	assert.True(t, analysis.SafeToInteract)

	f.ok(t, "", "get_safer_alternatives", map[string]any{"address": cleanAddr}, nil)

	f.ok(t, "", "scan_transaction", tx(userAddr, cleanAddr), nil)
	var res walletscan.Result
	f.ok(t, "", "scan_wallet_security", map[string]any{"wallet": userAddr}, &res)
	assert.Equal(t, 1, res.ContractsAnalyzed)

	var dash walletscan.Dashboard
	f.ok(t, "", "get_wallet_risk_dashboard", map[string]any{"wallet": userAddr}, &dash)
	assert.Equal(t, "secure", dash.OverallStatus)

	f.ok(t, userAddr, "track_token_approval", map[string]any{"token": tokenAddr, "spender": spenderAddr, "amount": "5"}, nil)
	var safety audit.SafetyReport
	f.ok(t, "", "get_approval_safety_report", map[string]any{"wallet": userAddr}, &safety)
	assert.Equal(t, 100, safety.SafetyScore)
	var trail struct {
		Count int `json:"count"`
	}
	f.ok(t, "", "get_approval_history", map[string]any{"wallet": userAddr}, &trail)
	assert.Equal(t, 1, trail.Count)
}

func TestConcurrentScansThroughRPC(t *testing.T) {
	f := newFixture(t)
	const n = 40
	params, err := json.Marshal(tx(userAddr, cleanAddr))
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make(chan int64, n)
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.guard.Call(context.Background(), "scan_transaction", params)
			if err != nil {
				errs <- err
				return
			}
			ids <- out.(*risk.ScanRecord).ScanID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("scan failed: %v", err)
	}
	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	require.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing scan id %d", i)
	}
}

func TestMethods(t *testing.T) {
	f := newFixture(t)
	methods := f.guard.Methods()
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.Name
	}
	for _, want := range []string{
		"scan_transaction", "get_system_status", "get_system_dashboard", "emergency_pause", "resume_system",
		"get_address_risk", "get_address_profile", "get_blacklist", "get_whitelist",
		"get_threat_intelligence", "analyze_patterns", "get_threat_summary", "get_ai_recommendations",
		"predict_threats_proactive", "system_health_check", "configure_webhook", "get_webhook_config",
		"scan_wallet_security", "get_wallet_risk_dashboard", "register_dapp", "get_dapp_health_status",
		"monitor_dapp_contracts", "track_token_approval", "check_dangerous_approvals",
		"get_approval_safety_report", "set_custom_risk_thresholds", "get_user_thresholds",
		"simulate_transaction", "add_operator", "blacklist_address", "whitelist_address", "update_thresholds",
		"connect_wallet", "get_user_interaction_history", "add_contract_to_watch", "get_contract_risk_profile",
		"analyze_contract_before_interaction", "get_safer_alternatives", "list_scans", "get_scan",
	} {
		assert.Contains(t, names, want)
	}
	assert.IsIncreasing(t, names)
}
