// Package detector matches transactions against known exploit signatures.
// Detection is pure: the same transaction always yields the same result.
package detector

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/mbd888/securityguard/internal/chain"
)

var (
	ErrInvalidAddress = errors.New("detector: invalid address")
	ErrInvalidRule    = errors.New("detector: invalid rule")
)

// Defaults for the signature profile.
const (
	DefaultCeiling = 60
	DefaultHighGas = 500_000
	MinRuleWeight  = 2
)

// DefaultLargeValue is 100 ether in wei.
var DefaultLargeValue = chain.EtherToWei(100)

// Transaction is the raw evidence submitted for a scan.
type Transaction struct {
	From     string `json:"from" validate:"required"`
	To       string `json:"to" validate:"required"`
	Value    string `json:"value"`
	Calldata string `json:"calldata"`
	GasUsed  uint64 `json:"gas_used"`
}

// Input is a parsed Transaction handed to rules.
type Input struct {
	From    chain.Address
	To      chain.Address
	Value   *big.Int
	Data    []byte
	Call    chain.Call
	HasCall bool
	GasUsed uint64
}

// Config is the signature profile shared by rules.
type Config struct {
	Ceiling    int
	LargeValue *big.Int
	HighGas    uint64
}

// DefaultConfig returns the built-in profile.
func DefaultConfig() Config {
	return Config{Ceiling: DefaultCeiling, LargeValue: new(big.Int).Set(DefaultLargeValue), HighGas: DefaultHighGas}
}

// Validate checks the profile.
func (c Config) Validate() error {
	if c.Ceiling < 1 || c.Ceiling > 100 {
		return fmt.Errorf("%w: ceiling must be within 1..100", ErrInvalidRule)
	}
	if c.LargeValue == nil || c.LargeValue.Sign() <= 0 {
		return fmt.Errorf("%w: large value must be positive", ErrInvalidRule)
	}
	return nil
}

// CheckBelow rejects a ceiling that would let signatures alone reach the
// critical threshold.
func (c Config) CheckBelow(critical int) error {
	if c.Ceiling >= critical {
		return fmt.Errorf("%w: ceiling %d must stay below the critical threshold %d", ErrInvalidRule, c.Ceiling, critical)
	}
	return nil
}

// Cap bounds a raw signature score by the ceiling and by critical-1, so
// critical always needs corroboration even after thresholds are lowered
// at runtime.
func (c Config) Cap(raw, critical int) int {
	return max(0, min(raw, c.Ceiling, critical-1))
}

// Match is one rule that fired.
type Match struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Result is the outcome of Detect.
type Result struct {
	Signatures []string `json:"signatures"`
	Matches    []Match  `json:"matches"`
	// Raw is the uncapped sum of weights; Score is Raw capped at the ceiling.
	Raw   int `json:"raw"`
	Score int `json:"score"`
	// Diagnostic explains degraded parsing (malformed calldata or value).
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Has reports whether signature name matched.
func (r *Result) Has(name string) bool {
	for _, s := range r.Signatures {
		if s == name {
			return true
		}
	}
	return false
}

// Detector evaluates an ordered rule list.
type Detector struct {
	cfg   Config
	rules []Rule
}

// New creates a detector. With no rules the built-in set is used.
func New(cfg Config, rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{cfg: cfg, rules: rules}
}

// Default creates a detector with the built-in profile and rules.
func Default() *Detector {
	return New(DefaultConfig())
}

// Config returns the active profile.
func (d *Detector) Config() Config { return d.cfg }

// Rules returns the ordered rule list.
func (d *Detector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Parse validates addresses and decodes the rest leniently. The returned
// diagnostic is non-empty when calldata or value could not be parsed.
func Parse(tx Transaction) (*Input, string, error) {
	from, err := chain.ParseAddress(tx.From)
	if err != nil {
		return nil, "", fmt.Errorf("%w: from: %w", ErrInvalidAddress, err)
	}
	to, err := chain.ParseAddress(tx.To)
	if err != nil {
		return nil, "", fmt.Errorf("%w: to: %w", ErrInvalidAddress, err)
	}

	in := &Input{From: from, To: to, GasUsed: tx.GasUsed, Value: new(big.Int)}
	var diag string

	if v, err := chain.ParseAmount(tx.Value); err == nil {
		in.Value = v
	} else {
		diag = err.Error()
	}

	data, err := chain.DecodeCalldata(tx.Calldata)
	if err != nil {
		if diag != "" {
			diag += "; "
		}
		diag += err.Error()
		return in, diag, nil
	}
	in.Data = data
	in.Call, in.HasCall = chain.SplitCall(data)
	return in, diag, nil
}

// Detect runs every rule in order and sums the weights of matches, capped
// at the configured ceiling. Only malformed addresses are errors.
func (d *Detector) Detect(tx Transaction) (*Result, error) {
	in, diag, err := Parse(tx)
	if err != nil {
		return nil, err
	}
	res := d.Evaluate(in)
	res.Diagnostic = diag
	return res, nil
}

// Evaluate runs the rules over an already parsed input.
func (d *Detector) Evaluate(in *Input) *Result {
	res := &Result{Signatures: []string{}, Matches: []Match{}}
	for _, rule := range d.rules {
		w, ok := rule.Evaluate(in, d.cfg)
		if !ok {
			continue
		}
		res.Matches = append(res.Matches, Match{ID: rule.ID(), Name: rule.Name(), Weight: w})
		res.Signatures = append(res.Signatures, rule.Name())
		res.Raw += w
	}
	res.Score = res.Raw
	if res.Score > d.cfg.Ceiling {
		res.Score = d.cfg.Ceiling
	}
	return res
}
