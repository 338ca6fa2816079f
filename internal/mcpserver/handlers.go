package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GuardClient) *Handlers {
	return &Handlers{client: client}
}

// txParams pulls the shared transaction arguments.
func txParams(req mcp.CallToolRequest) (map[string]any, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")
	if from == "" || to == "" {
		return nil, fmt.Errorf("from and to are required")
	}
	params := map[string]any{"from": from, "to": to}
	if v := req.GetString("value", ""); v != "" {
		params["value"] = v
	}
	if d := req.GetString("calldata", ""); d != "" {
		params["calldata"] = d
	}
	return params, nil
}

// HandleScanTransaction scores and records a transaction.
func (h *Handlers) HandleScanTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := txParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := h.client.Call(ctx, "scan_transaction", params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
	}
	text, err := formatScan(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse scan: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSimulateTransaction dry-runs a scan.
func (h *Handlers) HandleSimulateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := txParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := h.client.Call(ctx, "simulate_transaction", params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Simulation failed: %v", err)), nil
	}
	text, err := formatSimulation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse simulation: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetSystemStatus reports pause state and totals.
func (h *Handlers) HandleGetSystemStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Call(ctx, "get_system_status", nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}
	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetAddressRisk looks up an address in the registry.
func (h *Handlers) HandleGetAddressRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "get_address_risk", "address", req)
}

// HandleGetThreatSummary summarizes the rolling window.
func (h *Handlers) HandleGetThreatSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "get_threat_summary", "", req)
}

// HandleCheckDangerousApprovals lists risky approvals of a wallet.
func (h *Handlers) HandleCheckDangerousApprovals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "check_dangerous_approvals", "wallet", req)
}

// HandleScanWalletSecurity runs a wallet-wide scan.
func (h *Handlers) HandleScanWalletSecurity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "scan_wallet_security", "wallet", req)
}

// HandleAnalyzeContract scores a contract before interaction.
func (h *Handlers) HandleAnalyzeContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "analyze_contract_before_interaction", "address", req)
}

// HandlePredictThreats reports trending signature families.
func (h *Handlers) HandlePredictThreats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "predict_threats_proactive", "", req)
}

// HandleGetUserThresholds shows a user's active thresholds.
func (h *Handlers) HandleGetUserThresholds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.forward(ctx, "get_user_thresholds", "user", req)
}

// HandleEmergencyPause pauses the system.
func (h *Handlers) HandleEmergencyPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason := strings.TrimSpace(req.GetString("reason", ""))
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}
	raw, err := h.client.Call(ctx, "emergency_pause", map[string]any{"reason": reason})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Pause failed: %v", err)), nil
	}
	return mcp.NewToolResultText("System paused. Every scan is blocked until an operator resumes it.\n\n" + formatJSON(raw)), nil
}

// forward calls method with at most one required string argument and
// returns the pretty-printed result.
func (h *Handlers) forward(ctx context.Context, method, arg string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params map[string]any
	if arg != "" {
		v := req.GetString(arg, "")
		if v == "" {
			return mcp.NewToolResultError(arg + " is required"), nil
		}
		params = map[string]any{arg: v}
	}
	raw, err := h.client.Call(ctx, method, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", method, err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

type scanResult struct {
	ScanID       int64    `json:"scan_id"`
	RiskScore    int      `json:"risk_score"`
	ThreatLevel  string   `json:"threat_level"`
	Signatures   []string `json:"signatures"`
	ActionTaken  string   `json:"action_taken"`
	Explanation  string   `json:"explanation"`
	SystemPaused bool     `json:"system_paused"`
}

func formatScan(raw json.RawMessage) (string, error) {
	var r scanResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan #%d: risk %d/100 (%s)\n", r.ScanID, r.RiskScore, r.ThreatLevel)
	fmt.Fprintf(&sb, "Action: %s\n", r.ActionTaken)
	if len(r.Signatures) > 0 {
		fmt.Fprintf(&sb, "Signatures: %s\n", strings.Join(r.Signatures, ", "))
	}
	if r.Explanation != "" {
		fmt.Fprintf(&sb, "\n%s\n", r.Explanation)
	}
	if r.SystemPaused {
		sb.WriteString("\nWARNING: the system is paused. Do not proceed with this transaction.\n")
	}
	return sb.String(), nil
}

type simulationResult struct {
	RiskScore     int      `json:"risk_score"`
	ThreatLevel   string   `json:"threat_level"`
	Signatures    []string `json:"signatures"`
	WillSucceed   bool     `json:"will_succeed"`
	FrontRunRisk  bool     `json:"front_run_risk"`
	SlippageRisk  string   `json:"slippage_risk"`
	SafeToExecute bool     `json:"safe_to_execute"`
	EstimatedGas  uint64   `json:"estimated_gas"`
}

func formatSimulation(raw json.RawMessage) (string, error) {
	var r simulationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	var sb strings.Builder
	verdict := "NOT safe to execute"
	if r.SafeToExecute {
		verdict = "Safe to execute"
	}
	fmt.Fprintf(&sb, "%s: risk %d/100 (%s)\n", verdict, r.RiskScore, r.ThreatLevel)
	fmt.Fprintf(&sb, "Would be allowed: %t\n", r.WillSucceed)
	fmt.Fprintf(&sb, "Front-run risk: %t\n", r.FrontRunRisk)
	if r.SlippageRisk != "" {
		fmt.Fprintf(&sb, "Slippage risk: %s\n", r.SlippageRisk)
	}
	if r.EstimatedGas > 0 {
		fmt.Fprintf(&sb, "Estimated gas: %d\n", r.EstimatedGas)
	}
	if len(r.Signatures) > 0 {
		fmt.Fprintf(&sb, "Signatures: %s\n", strings.Join(r.Signatures, ", "))
	}
	return sb.String(), nil
}

type statusResult struct {
	State       string `json:"state"`
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason"`
	Owner       string `json:"owner"`
	Thresholds  struct {
		Critical int `json:"critical"`
		High     int `json:"high"`
		Medium   int `json:"medium"`
	} `json:"thresholds"`
	Statistics struct {
		TotalScans   int64 `json:"total_scans"`
		TotalThreats int64 `json:"total_threats"`
		TotalPauses  int64 `json:"total_pauses"`
	} `json:"statistics"`
}

func formatStatus(raw json.RawMessage) (string, error) {
	var r statusResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", r.State)
	if r.Paused && r.PauseReason != "" {
		fmt.Fprintf(&sb, "Pause reason: %s\n", r.PauseReason)
	}
	fmt.Fprintf(&sb, "Owner: %s\n", r.Owner)
	fmt.Fprintf(&sb, "Thresholds: critical %d, high %d, medium %d\n",
		r.Thresholds.Critical, r.Thresholds.High, r.Thresholds.Medium)
	fmt.Fprintf(&sb, "Scans: %d (threats %d, pauses %d)\n",
		r.Statistics.TotalScans, r.Statistics.TotalThreats, r.Statistics.TotalPauses)
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
