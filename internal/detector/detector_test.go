package detector

import (
	"strings"
	"testing"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sender   = "0x1111111111111111111111111111111111111111"
	contract = "0x2222222222222222222222222222222222222222"
	spender  = "0x3333333333333333333333333333333333333333"
)

const maxWord = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

func word(hex string) string {
	return strings.Repeat("0", 64-len(hex)) + hex
}

func addrWord(a string) string { return word(strings.TrimPrefix(a, "0x")) }

func call(signature string, words ...string) string {
	return chain.SelectorHex(signature) + strings.Join(words, "")
}

func TestDetect_InfiniteApproval(t *testing.T) {
	d := Default()
	res, err := d.Detect(Transaction{
		From:     sender,
		To:       contract,
		Calldata: call("approve(address,uint256)", addrWord(spender), maxWord),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{SigInfiniteApproval}, res.Signatures)
	assert.Equal(t, 35, res.Score)

	res, err = d.Detect(Transaction{
		From:     sender,
		To:       contract,
		Calldata: call("approve(address,uint256)", addrWord(spender), word("3e8")),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Signatures)
	assert.Zero(t, res.Score)
}

func TestDetect_FlashLoanGraduated(t *testing.T) {
	d := Default()
	data := call("onFlashLoan(address,address,uint256,uint256,bytes)")

	small, err := d.Detect(Transaction{From: sender, To: contract, Calldata: data, Value: "1"})
	require.NoError(t, err)
	assert.True(t, small.Has(SigFlashLoan))
	assert.Equal(t, 20, small.Score)

	large, err := d.Detect(Transaction{From: sender, To: contract, Calldata: data, Value: DefaultLargeValue.String()})
	require.NoError(t, err)
	assert.True(t, large.Has(SigFlashLoan))
	assert.True(t, large.Has(SigHighValue))
	assert.Equal(t, 50, large.Score)
}

func TestDetect_Sandwich(t *testing.T) {
	d := Default()
	data := call("swapExactETHForTokens(uint256,address[],address,uint256)")

	res, err := d.Detect(Transaction{From: sender, To: contract, Calldata: data, Value: "1000", GasUsed: 800_000})
	require.NoError(t, err)
	assert.True(t, res.Has(SigSandwich))

	res, err = d.Detect(Transaction{From: sender, To: contract, Calldata: data, Value: "1000", GasUsed: 90_000})
	require.NoError(t, err)
	assert.False(t, res.Has(SigSandwich))
}

func TestDetect_CeilingCapsContribution(t *testing.T) {
	d := Default()
	res, err := d.Detect(Transaction{
		From:     sender,
		To:       chain.ZeroAddress,
		Value:    DefaultLargeValue.String(),
		Calldata: call("executeOperation(address,uint256,uint256,address,bytes)"),
	})
	require.NoError(t, err)
	assert.Equal(t, 40+10+15, res.Raw)
	assert.Equal(t, DefaultCeiling, res.Score)
	assert.Len(t, res.Matches, 3)
}

func TestDetect_OrderFollowsRuleList(t *testing.T) {
	d := Default()
	res, err := d.Detect(Transaction{
		From:     sender,
		To:       chain.ZeroAddress,
		Calldata: call("transferOwnership(address)", addrWord(spender)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{SigOwnershipTakeover, SigZeroRecipient}, res.Signatures)
}

func TestDetect_MalformedInput(t *testing.T) {
	d := Default()

	_, err := d.Detect(Transaction{From: "0xnothex", To: contract})
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = d.Detect(Transaction{From: sender, To: "nope"})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	for _, data := range []string{"0x123", "0xgg", "deadbeef"} {
		res, err := d.Detect(Transaction{From: sender, To: contract, Calldata: data})
		require.NoError(t, err, data)
		assert.Empty(t, res.Signatures)
		assert.Zero(t, res.Score)
		assert.NotEmpty(t, res.Diagnostic)
	}

	res, err := d.Detect(Transaction{From: sender, To: contract, Value: "lots"})
	require.NoError(t, err)
	assert.Contains(t, res.Diagnostic, "invalid amount")
}

func TestDetect_ShortCalldataIsNotAnError(t *testing.T) {
	res, err := Default().Detect(Transaction{From: sender, To: contract, Calldata: "0x0102"})
	require.NoError(t, err)
	assert.Empty(t, res.Signatures)
	assert.Empty(t, res.Diagnostic)
}

func TestTable_Build(t *testing.T) {
	table, err := ParseTable([]byte(`
ceiling: 70
high_gas: 100000
weights:
  EXP-004: 45
rules:
  - id: SIG-100
    name: permit_phishing
    selectors: ["permit(address,address,uint256,uint256,uint8,bytes32,bytes32)"]
    weight: 20
  - id: SIG-101
    name: multicall_drain
    selectors: ["0xac9650d8"]
    weight: 12
    min_gas: 300000
`))
	require.NoError(t, err)

	d, err := table.Build(85)
	require.NoError(t, err)
	assert.Equal(t, 70, d.Config().Ceiling)
	assert.Len(t, d.Rules(), len(DefaultRules())+2)

	res, err := d.Detect(Transaction{From: sender, To: contract, Calldata: call("transferOwnership(address)", addrWord(spender))})
	require.NoError(t, err)
	assert.Equal(t, 45, res.Score)

	res, err = d.Detect(Transaction{From: sender, To: contract, Calldata: call("permit(address,address,uint256,uint256,uint8,bytes32,bytes32)")})
	require.NoError(t, err)
	assert.Equal(t, []string{"permit_phishing"}, res.Signatures)

	res, err = d.Detect(Transaction{From: sender, To: contract, Calldata: "0xac9650d8", GasUsed: 1000})
	require.NoError(t, err)
	assert.Empty(t, res.Signatures)
	res, err = d.Detect(Transaction{From: sender, To: contract, Calldata: "0xac9650d8", GasUsed: 400_000})
	require.NoError(t, err)
	assert.Equal(t, []string{"multicall_drain"}, res.Signatures)
}

func TestConfig_CapNeedsCorroboration(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 35, c.Cap(35, 85))
	assert.Equal(t, c.Ceiling, c.Cap(200, 85))
	assert.Equal(t, 39, c.Cap(200, 40), "lowered critical still needs corroboration")
	assert.Equal(t, 0, c.Cap(10, 0))

	assert.NoError(t, c.CheckBelow(85))
	c.Ceiling = 90
	assert.ErrorIs(t, c.CheckBelow(85), ErrInvalidRule)
}

func TestTable_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"weight too small", "rules:\n  - {id: X-1, name: x, selectors: ['0x12345678'], weight: 1}\n"},
		{"missing selectors", "rules:\n  - {id: X-1, name: x, weight: 5}\n"},
		{"bad selector", "rules:\n  - {id: X-1, name: x, selectors: ['0x12'], weight: 5}\n"},
		{"duplicate builtin id", "rules:\n  - {id: EXP-001, name: x, selectors: ['0x12345678'], weight: 5}\n"},
		{"unknown override", "weights:\n  NOPE-1: 10\n"},
		{"override too small", "weights:\n  EXP-001: 0\n"},
		{"ceiling out of range", "ceiling: 150\n"},
		{"ceiling reaches critical", "ceiling: 85\n"},
		{"bad large value", "large_value_wei: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = table.Build(85)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}

	_, err := ParseTable([]byte("rules: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}
