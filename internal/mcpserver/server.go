package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with the guard tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("securityguard", version)
	h := NewHandlers(NewGuardClient(cfg))

	s.AddTool(ToolScanTransaction, h.HandleScanTransaction)
	s.AddTool(ToolSimulateTransaction, h.HandleSimulateTransaction)
	s.AddTool(ToolGetSystemStatus, h.HandleGetSystemStatus)
	s.AddTool(ToolGetAddressRisk, h.HandleGetAddressRisk)
	s.AddTool(ToolGetThreatSummary, h.HandleGetThreatSummary)
	s.AddTool(ToolCheckDangerousApprovals, h.HandleCheckDangerousApprovals)
	s.AddTool(ToolScanWalletSecurity, h.HandleScanWalletSecurity)
	s.AddTool(ToolAnalyzeContract, h.HandleAnalyzeContract)
	s.AddTool(ToolPredictThreats, h.HandlePredictThreats)
	s.AddTool(ToolEmergencyPause, h.HandleEmergencyPause)
	s.AddTool(ToolGetUserThresholds, h.HandleGetUserThresholds)

	return s
}
