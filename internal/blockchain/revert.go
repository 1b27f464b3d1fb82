package blockchain

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DataError mirrors go-ethereum's rpc.DataError: the JSON-RPC error
// shape that carries the raw revert payload alongside the error
// message, as returned by eth_call and eth_sendRawTransaction on a
// reverted execution. Any error satisfying this (including
// rpc.DataError itself) is accepted without importing the rpc package.
type DataError interface {
	Error() string
	ErrorData() interface{}
}

// DecodeRevertReason extracts the Solidity revert reason from a failed
// call's error, decoding the standard Error(string) and Panic(uint256)
// payloads. Falls back to the bare error message when the node didn't
// attach structured revert data.
func DecodeRevertReason(err error) string {
	if err == nil {
		return ""
	}
	data := revertData(err)
	if len(data) >= 4 {
		if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
			return reason
		}
		if code, ok := panicCode(data); ok {
			return "panic: " + code
		}
	}
	return err.Error()
}

func revertData(err error) []byte {
	de, ok := err.(DataError)
	if !ok {
		return nil
	}
	switch v := de.ErrorData().(type) {
	case string:
		return decodeHex(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func decodeHex(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// panicSelector is the 4-byte selector for Solidity's Panic(uint256),
// emitted for assertion failures, overflow, and out-of-bounds access.
var panicSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71}

func panicCode(data []byte) (string, bool) {
	if len(data) < 4 || data[0] != panicSelector[0] || data[1] != panicSelector[1] ||
		data[2] != panicSelector[2] || data[3] != panicSelector[3] {
		return "", false
	}
	return hex.EncodeToString(data[4:]), true
}
