// Package chain holds the EVM primitives the engine reads transactions with:
// address canonicalization, calldata decoding, function selectors and
// token amounts.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAddress  = errors.New("chain: invalid address")
	ErrInvalidCalldata = errors.New("chain: invalid calldata")
	ErrInvalidAmount   = errors.New("chain: invalid amount")
)

// ZeroAddress is the canonical form of the null account.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// InfiniteAmount is the textual sentinel accepted in place of max uint256.
const InfiniteAmount = "infinite"

// Address is a canonical (lowercase, 0x-prefixed) account identifier.
type Address string

// ParseAddress validates s and returns its canonical form. The 0x prefix is
// required; comparison is case-insensitive.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(strings.ToLower(common.HexToAddress(s).Hex())), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

// IsZero reports whether a is the null account.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Checksum returns the EIP-55 mixed-case form for display.
func (a Address) Checksum() string { return common.HexToAddress(string(a)).Hex() }

// DecodeCalldata decodes 0x-prefixed hex call payload. An empty string and
// "0x" decode to an empty payload.
func DecodeCalldata(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalldata, err)
	}
	return b, nil
}

// Selector returns the 4-byte function selector of a canonical signature
// such as "approve(address,uint256)".
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// SelectorHex is Selector rendered as 0x-prefixed hex.
func SelectorHex(signature string) string {
	sel := Selector(signature)
	return hexutil.Encode(sel[:])
}

// Call is a decoded call payload split into selector and argument words.
type Call struct {
	Selector [4]byte
	Args     []byte
}

// SplitCall splits a payload into selector and arguments. ok is false when
// the payload is too short to carry a selector.
func SplitCall(data []byte) (Call, bool) {
	if len(data) < 4 {
		return Call{}, false
	}
	var c Call
	copy(c.Selector[:], data[:4])
	c.Args = data[4:]
	return c, true
}

// Word returns the i-th 32-byte ABI argument word as an unsigned integer.
func (c Call) Word(i int) (*big.Int, bool) {
	start := i * 32
	if start < 0 || len(c.Args) < start+32 {
		return nil, false
	}
	return new(big.Int).SetBytes(c.Args[start : start+32]), true
}

// AddressArg returns the i-th ABI argument word interpreted as an address.
func (c Call) AddressArg(i int) (Address, bool) {
	start := i * 32
	if start < 0 || len(c.Args) < start+32 {
		return "", false
	}
	addr := common.BytesToAddress(c.Args[start+12 : start+32])
	return Address(strings.ToLower(addr.Hex())), true
}

// IsMaxUint reports whether v equals 2^256-1.
func IsMaxUint(v *big.Int) bool {
	return v != nil && v.Cmp(math.MaxBig256) == 0
}

// ParseAmount parses a non-negative decimal or 0x-hex amount. The literal
// "infinite" (any case) and "max" map to 2^256-1.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return new(big.Int), nil
	case InfiniteAmount, "max", "max_uint256":
		return new(big.Int).Set(math.MaxBig256), nil
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	return v, nil
}

// FormatAmount renders v as decimal, or "infinite" for max uint.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	if IsMaxUint(v) {
		return InfiniteAmount
	}
	return v.String()
}

// EtherToWei converts whole ether units to wei.
func EtherToWei(ether int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(ether), big.NewInt(1e18))
}

// Word returns a as a 32-byte ABI argument.
func (a Address) Word() []byte {
	return common.LeftPadBytes(common.HexToAddress(string(a)).Bytes(), 32)
}

// PackCall ABI-encodes a call to signature with static 32-byte arguments and
// returns it as 0x-prefixed hex. Build arguments with Address.Word and
// AmountWord.
func PackCall(signature string, args ...[]byte) string {
	sel := Selector(signature)
	data := append([]byte{}, sel[:]...)
	for _, a := range args {
		data = append(data, common.LeftPadBytes(a, 32)...)
	}
	return hexutil.Encode(data)
}

// AmountWord returns v as a 32-byte ABI argument.
func AmountWord(v *big.Int) []byte {
	return math.U256Bytes(new(big.Int).Set(v))
}
