package guard

import (
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// none is the params type of methods that take no arguments.
type none struct{}

// TxParams describe a transaction to scan or simulate. Address and calldata
// format errors surface from the scoring engine as invalid_transaction, so
// only presence is checked here.
type TxParams struct {
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
	Value    string `json:"value"`
	Calldata string `json:"calldata"`
	GasUsed  uint64 `json:"gas_used"`
	// Bypass asks for an operator scan while the system is paused.
	Bypass bool `json:"bypass"`
}

func (p TxParams) transaction() detector.Transaction {
	return detector.Transaction{From: p.From, To: p.To, Value: p.Value, Calldata: p.Calldata, GasUsed: p.GasUsed}
}

// Blank reasons are rejected by the state machine as invalid_reason.
type reasonParams struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type justificationParams struct {
	Justification string `json:"justification" validate:"max=1000"`
}

type addressParams struct {
	Address string `json:"address" validate:"required,address"`
}

func (p addressParams) addr() chain.Address { return mustParse(p.Address) }

type walletParams struct {
	Wallet string `json:"wallet" validate:"required,address"`
}

func (p walletParams) addr() chain.Address { return mustParse(p.Wallet) }

// optionalWallet defaults to the caller when empty.
type optionalWallet struct {
	Wallet string `json:"wallet" validate:"omitempty,address"`
}

type thresholdParams struct {
	Critical *int `json:"critical" validate:"required"`
	High     *int `json:"high" validate:"required"`
	Medium   *int `json:"medium" validate:"required"`
}

func (p thresholdParams) set() thresholds.Set {
	return thresholds.Set{Critical: *p.Critical, High: *p.High, Medium: *p.Medium}
}

type userThresholdParams struct {
	User string `json:"user" validate:"omitempty,address"`
	thresholdParams
}

type userParams struct {
	User string `json:"user" validate:"required,address"`
}

type webhookParams struct {
	URL              string `json:"url" validate:"required,url"`
	Enabled          *bool  `json:"enabled"`
	MinRiskThreshold *int   `json:"min_risk_threshold"`
	Secret           string `json:"secret" validate:"max=256"`
}

type dappParams struct {
	Address string `json:"address" validate:"required,address"`
	Name    string `json:"name" validate:"notblank,max=200"`
	Type    string `json:"type" validate:"max=64"`
}

type approvalParams struct {
	Wallet  string `json:"wallet" validate:"omitempty,address"`
	Token   string `json:"token" validate:"required,address"`
	Spender string `json:"spender" validate:"required,address"`
	Amount  string `json:"amount" validate:"required,amount"`
}

type pageParams struct {
	Cursor string `json:"cursor" validate:"max=64"`
	Limit  int    `json:"limit" validate:"min=0,max=1000"`
}

type historyParams struct {
	Wallet string `json:"wallet" validate:"required,address"`
	pageParams
}

type listScansParams struct {
	Address string `json:"address" validate:"omitempty,address"`
	pageParams
}

type scanIDParams struct {
	ScanID int64 `json:"scan_id" validate:"required,min=1"`
}

type transitionsParams struct {
	Limit int `json:"limit" validate:"min=0,max=1000"`
}

// mustParse canonicalizes an address that already passed the address tag.
func mustParse(s string) chain.Address {
	return chain.MustAddress(s)
}

// optional canonicalizes an address that may be empty.
func optional(s string) chain.Address {
	if s == "" {
		return ""
	}
	return mustParse(s)
}
