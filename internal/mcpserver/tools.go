package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the SecurityGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var txArgs = []mcp.ToolOption{
	mcp.WithString("from",
		mcp.Required(),
		mcp.Description("Sender address (0x-prefixed, 20 bytes)")),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Recipient or contract address (0x-prefixed, 20 bytes)")),
	mcp.WithString("value",
		mcp.Description("Value in wei as a decimal string (default '0')")),
	mcp.WithString("calldata",
		mcp.Description("Hex calldata, e.g. '0x095ea7b3...' for approve")),
}

var ToolScanTransaction = mcp.NewTool("scan_transaction",
	append([]mcp.ToolOption{mcp.WithDescription(
		"Score a transaction before it is signed. Returns a 0-100 risk score, threat level, " +
			"matched exploit signatures and the action taken. The scan is recorded, and a " +
			"critical result may pause the whole system. Use simulate_transaction for a dry run.")},
		txArgs...)...,
)

var ToolSimulateTransaction = mcp.NewTool("simulate_transaction",
	append([]mcp.ToolOption{mcp.WithDescription(
		"Dry-run a transaction scan without recording it or pausing anything. " +
			"Reports whether it is safe to execute, front-running and slippage risk, and estimated gas.")},
		txArgs...)...,
)

var ToolGetSystemStatus = mcp.NewTool("get_system_status",
	mcp.WithDescription(
		"Check whether SecurityGuard is active or paused, the global risk thresholds, "+
			"and running totals of scans, threats and pauses."),
)

var ToolGetAddressRisk = mcp.NewTool("get_address_risk",
	mcp.WithDescription(
		"Look up an address in the risk registry: blacklisted, whitelisted, tracked, "+
			"and whether its score trend is rising."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to look up (e.g. '0x1234...')")),
)

var ToolGetThreatSummary = mcp.NewTool("get_threat_summary",
	mcp.WithDescription(
		"Summarize recent threat activity: scan counts per threat level and the overall threat level."),
)

var ToolCheckDangerousApprovals = mcp.NewTool("check_dangerous_approvals",
	mcp.WithDescription(
		"List token approvals of a wallet that are infinite or granted to risky spenders. "+
			"Revoke these to limit what a compromised spender can drain."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("Wallet address to audit")),
)

var ToolScanWalletSecurity = mcp.NewTool("scan_wallet_security",
	mcp.WithDescription(
		"Analyze every counterparty a wallet has interacted with and its approvals, "+
			"and return an overall wallet health score."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("Wallet address to scan")),
)

var ToolAnalyzeContract = mcp.NewTool("analyze_contract_before_interaction",
	mcp.WithDescription(
		"Score a contract from the registry and past scans before interacting with it, "+
			"with a plain-language recommendation."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Contract address")),
)

var ToolPredictThreats = mcp.NewTool("predict_threats_proactive",
	mcp.WithDescription(
		"Predict which exploit families are trending upward and suggest preventive actions."),
)

var ToolEmergencyPause = mcp.NewTool("emergency_pause",
	mcp.WithDescription(
		"Pause SecurityGuard so every further scan is blocked until an operator resumes it. "+
			"Requires an operator or owner API key. Use only for an active incident."),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why the system is being paused")),
)

var ToolGetUserThresholds = mcp.NewTool("get_user_thresholds",
	mcp.WithDescription(
		"Show the risk thresholds that apply to a user and whether they are custom or the global defaults."),
	mcp.WithString("user",
		mcp.Required(),
		mcp.Description("User address")),
)
