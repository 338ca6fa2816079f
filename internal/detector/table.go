package detector

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/securityguard/internal/chain"
)

// Table is the on-disk signature table. It extends the built-in rules and
// may override their weights and the detector profile.
//
//	ceiling: 60
//	large_value_wei: "100000000000000000000"
//	high_gas: 500000
//	weights:
//	  EXP-004: 40
//	rules:
//	  - id: SIG-100
//	    name: permit_phishing
//	    selectors: ["permit(address,address,uint256,uint256,uint8,bytes32,bytes32)"]
//	    weight: 20
type Table struct {
	Ceiling       int            `yaml:"ceiling"`
	LargeValueWei string         `yaml:"large_value_wei"`
	HighGas       uint64         `yaml:"high_gas"`
	Weights       map[string]int `yaml:"weights"`
	Rules         []TableRule    `yaml:"rules"`
}

// TableRule is a selector rule declared in the table. Selectors may be
// canonical signatures or 4-byte 0x hex.
type TableRule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Selectors   []string `yaml:"selectors"`
	Weight      int      `yaml:"weight"`
	MinValueWei string   `yaml:"min_value_wei"`
	MinGas      uint64   `yaml:"min_gas"`
}

// LoadTable reads and parses a table file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read signature table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses YAML table content.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return &t, nil
}

// Build produces a detector from the built-in rules with the table applied.
// The ceiling must stay below critical.
func (t *Table) Build(critical int) (*Detector, error) {
	cfg := DefaultConfig()
	if t.Ceiling != 0 {
		cfg.Ceiling = t.Ceiling
	}
	if t.LargeValueWei != "" {
		v, err := chain.ParseAmount(t.LargeValueWei)
		if err != nil {
			return nil, fmt.Errorf("%w: large_value_wei: %v", ErrInvalidRule, err)
		}
		cfg.LargeValue = v
	}
	if t.HighGas != 0 {
		cfg.HighGas = t.HighGas
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckBelow(critical); err != nil {
		return nil, err
	}

	seenID := map[string]bool{}
	seenName := map[string]bool{}
	rules := DefaultRules()
	for i, r := range rules {
		seenID[r.ID()] = true
		seenName[r.Name()] = true
		if w, ok := t.Weights[r.ID()]; ok {
			if w < MinRuleWeight {
				return nil, fmt.Errorf("%w: weight for %s must be >= %d", ErrInvalidRule, r.ID(), MinRuleWeight)
			}
			rules[i] = r.(*SignatureRule).WithWeight(w)
		}
	}
	for id := range t.Weights {
		if !seenID[id] {
			return nil, fmt.Errorf("%w: weight override for unknown rule %s", ErrInvalidRule, id)
		}
	}

	for _, tr := range t.Rules {
		rule, err := tr.compile()
		if err != nil {
			return nil, err
		}
		if seenID[rule.RuleID] || seenName[rule.RuleName] {
			return nil, fmt.Errorf("%w: duplicate rule %s/%s", ErrInvalidRule, rule.RuleID, rule.RuleName)
		}
		seenID[rule.RuleID] = true
		seenName[rule.RuleName] = true
		rules = append(rules, rule)
	}

	return New(cfg, rules...), nil
}

func (tr TableRule) compile() (*SignatureRule, error) {
	if tr.ID == "" || tr.Name == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrInvalidRule)
	}
	if tr.Weight < MinRuleWeight {
		return nil, fmt.Errorf("%w: %s weight must be >= %d", ErrInvalidRule, tr.ID, MinRuleWeight)
	}
	if len(tr.Selectors) == 0 {
		return nil, fmt.Errorf("%w: %s has no selectors", ErrInvalidRule, tr.ID)
	}

	set := make(map[[4]byte]struct{}, len(tr.Selectors))
	for _, s := range tr.Selectors {
		sel, err := parseSelector(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, tr.ID, err)
		}
		set[sel] = struct{}{}
	}

	var minValue *big.Int
	if tr.MinValueWei != "" {
		v, err := chain.ParseAmount(tr.MinValueWei)
		if err != nil {
			return nil, fmt.Errorf("%w: %s min_value_wei: %v", ErrInvalidRule, tr.ID, err)
		}
		minValue = v
	}
	minGas := tr.MinGas

	return &SignatureRule{
		RuleID:     tr.ID,
		RuleName:   tr.Name,
		BaseWeight: tr.Weight,
		Match: func(in *Input, _ Config, base int) (int, bool) {
			if !in.calls(set) {
				return 0, false
			}
			if minValue != nil && in.Value.Cmp(minValue) < 0 {
				return 0, false
			}
			return base, in.GasUsed >= minGas
		},
	}, nil
}

func parseSelector(s string) ([4]byte, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "(") {
		return chain.Selector(s), nil
	}
	b, err := chain.DecodeCalldata(s)
	if err != nil || len(b) != 4 {
		return [4]byte{}, fmt.Errorf("selector %q is neither a signature nor 4-byte hex", s)
	}
	var sel [4]byte
	copy(sel[:], b)
	return sel, nil
}
