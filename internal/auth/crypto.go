package auth

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/securityguard/internal/chain"
)

// IssuanceMessage is the text a wallet signs to obtain an API key.
// Format: "SecurityGuard API key|{address}|{unix timestamp}"
func IssuanceMessage(addr chain.Address, timestamp int64) string {
	return "SecurityGuard API key|" + string(addr) + "|" + strconv.FormatInt(timestamp, 10)
}

// HashMessage applies the EIP-191 personal-message prefix and hashes.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress returns the signer of message. signature is 65 bytes of
// hex (r, s, v) with or without 0x; v may be 0/1 or 27/28.
func RecoverAddress(message, signatureHex string) (chain.Address, error) {
	if len(signatureHex) < 2 || signatureHex[:2] != "0x" {
		signatureHex = "0x" + signatureHex
	}
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(HashMessage(message), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return chain.ParseAddress(crypto.PubkeyToAddress(*pub).Hex())
}

// VerifySignature checks that expected signed message.
func VerifySignature(message, signatureHex string, expected chain.Address) error {
	got, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, got)
	}
	return nil
}
