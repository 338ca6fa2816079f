package detector

import (
	"github.com/mbd888/securityguard/internal/chain"
)

// Rule is one exploit signature. Evaluate returns the weight contributed
// when the rule matches.
type Rule interface {
	ID() string
	Name() string
	Weight() int
	Evaluate(in *Input, cfg Config) (int, bool)
}

// Signature names reported in scan results.
const (
	SigInfiniteApproval  = "infinite_approval"
	SigFlashLoan         = "flash_loan_exploit"
	SigSandwich          = "sandwich_attack"
	SigOwnershipTakeover = "ownership_takeover"
	SigProxyUpgrade      = "proxy_upgrade"
	SigHighValue         = "high_value_transfer"
	SigZeroRecipient     = "zero_address_recipient"
	SigApprovalForAll    = "approval_for_all"
)

var (
	approveSelectors = selectors(
		"approve(address,uint256)",
		"increaseAllowance(address,uint256)",
	)
	flashLoanSelectors = selectors(
		"executeOperation(address[],uint256[],uint256[],address,bytes)",
		"executeOperation(address,uint256,uint256,address,bytes)",
		"onFlashLoan(address,address,uint256,uint256,bytes)",
		"uniswapV2Call(address,uint256,uint256,bytes)",
		"flashLoan(address,address[],uint256[],uint256[],address,bytes,uint16)",
		"flashLoanSimple(address,address,uint256,bytes,uint16)",
	)
	swapSelectors = selectors(
		"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
		"swapExactETHForTokens(uint256,address[],address,uint256)",
		"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
		"exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
	)
	ownershipSelectors = selectors(
		"transferOwnership(address)",
		"renounceOwnership()",
	)
	upgradeSelectors = selectors(
		"upgradeTo(address)",
		"upgradeToAndCall(address,bytes)",
	)
	approvalForAllSelectors = selectors("setApprovalForAll(address,bool)")
)

func selectors(signatures ...string) map[[4]byte]struct{} {
	m := make(map[[4]byte]struct{}, len(signatures))
	for _, s := range signatures {
		m[chain.Selector(s)] = struct{}{}
	}
	return m
}

func (in *Input) calls(set map[[4]byte]struct{}) bool {
	if !in.HasCall {
		return false
	}
	_, ok := set[in.Call.Selector]
	return ok
}

// MatchFunc decides whether a rule fires and with what weight, given the
// rule's base weight.
type MatchFunc func(in *Input, cfg Config, base int) (int, bool)

// SignatureRule is a Rule defined by an ID, a name, a base weight and a
// match function.
type SignatureRule struct {
	RuleID     string
	RuleName   string
	BaseWeight int
	Match      MatchFunc
}

func (r *SignatureRule) ID() string   { return r.RuleID }
func (r *SignatureRule) Name() string { return r.RuleName }
func (r *SignatureRule) Weight() int  { return r.BaseWeight }

func (r *SignatureRule) Evaluate(in *Input, cfg Config) (int, bool) {
	return r.Match(in, cfg, r.BaseWeight)
}

// WithWeight returns a copy of r with a different base weight.
func (r *SignatureRule) WithWeight(w int) *SignatureRule {
	cp := *r
	cp.BaseWeight = w
	return &cp
}

// DefaultRules returns the built-in signatures in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		&SignatureRule{RuleID: "EXP-001", RuleName: SigInfiniteApproval, BaseWeight: 35, Match: matchInfiniteApproval},
		&SignatureRule{RuleID: "EXP-002", RuleName: SigFlashLoan, BaseWeight: 20, Match: matchFlashLoan},
		&SignatureRule{RuleID: "EXP-003", RuleName: SigSandwich, BaseWeight: 25, Match: matchSandwich},
		&SignatureRule{RuleID: "EXP-004", RuleName: SigOwnershipTakeover, BaseWeight: 30, Match: matchSelector(ownershipSelectors)},
		&SignatureRule{RuleID: "EXP-005", RuleName: SigProxyUpgrade, BaseWeight: 25, Match: matchSelector(upgradeSelectors)},
		&SignatureRule{RuleID: "EXP-006", RuleName: SigHighValue, BaseWeight: 10, Match: matchHighValue},
		&SignatureRule{RuleID: "EXP-007", RuleName: SigZeroRecipient, BaseWeight: 15, Match: matchZeroRecipient},
		&SignatureRule{RuleID: "EXP-008", RuleName: SigApprovalForAll, BaseWeight: 20, Match: matchApprovalForAll},
	}
}

func matchSelector(set map[[4]byte]struct{}) MatchFunc {
	return func(in *Input, _ Config, base int) (int, bool) {
		return base, in.calls(set)
	}
}

// approve(spender, amount) with amount == 2^256-1.
func matchInfiniteApproval(in *Input, _ Config, base int) (int, bool) {
	if !in.calls(approveSelectors) {
		return 0, false
	}
	amount, ok := in.Call.Word(1)
	return base, ok && chain.IsMaxUint(amount)
}

// Flash-loan callbacks score the base weight, doubled when the call also
// moves a large value.
func matchFlashLoan(in *Input, cfg Config, base int) (int, bool) {
	if !in.calls(flashLoanSelectors) {
		return 0, false
	}
	if in.Value.Cmp(cfg.LargeValue) >= 0 {
		return base * 2, true
	}
	return base, true
}

// Swaps that burn unusually high gas and carry value look like one leg of
// a sandwich.
func matchSandwich(in *Input, cfg Config, base int) (int, bool) {
	if !in.calls(swapSelectors) {
		return 0, false
	}
	return base, in.GasUsed >= cfg.HighGas && in.Value.Sign() > 0
}

func matchHighValue(in *Input, cfg Config, base int) (int, bool) {
	return base, in.Value.Cmp(cfg.LargeValue) >= 0
}

func matchZeroRecipient(in *Input, _ Config, base int) (int, bool) {
	return base, in.To.IsZero()
}

// setApprovalForAll(operator, true).
func matchApprovalForAll(in *Input, _ Config, base int) (int, bool) {
	if !in.calls(approvalForAllSelectors) {
		return 0, false
	}
	flag, ok := in.Call.Word(1)
	return base, ok && flag.Sign() != 0
}
