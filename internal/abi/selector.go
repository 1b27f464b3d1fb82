package abi

import "github.com/ethereum/go-ethereum/crypto"

// selector returns the 4-byte Keccak-256 function selector for a
// normalized signature string, the same derivation go-ethereum's own
// abi.Method uses internally.
func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}
