package eventmonitor

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainkeeper/chainkeeper/internal/models"
)

// buildFilterQuery matches the (contract_address, keccak256(event_signature))
// pair spec.md §4.H requires, over the given block range.
func buildFilterQuery(def models.EventMonitorDef, from, to uint64) ethereum.FilterQuery {
	filter := liveFilterQuery(def)
	filter.FromBlock = new(big.Int).SetUint64(from)
	filter.ToBlock = new(big.Int).SetUint64(to)
	return filter
}

// liveFilterQuery is the same (contract_address, topic0) match with no
// block bounds, for eth_subscribe-based delivery.
func liveFilterQuery(def models.EventMonitorDef) ethereum.FilterQuery {
	topic0 := crypto.Keccak256Hash([]byte(def.EventSignature))
	return ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(def.ContractAddress)},
		Topics:    [][]common.Hash{{topic0}},
	}
}

// resolveWebhookParams converts a webhook-supplied call's string
// parameters to the Go types ethabi.Arguments.PackValues expects, using
// the scheduler's literal-resolution rules for target calls plus hex
// literals for bytes and bytesN.
func resolveWebhookParams(types []string, literals []string) ([]interface{}, error) {
	if len(types) != len(literals) {
		return nil, fmt.Errorf("expected %d parameters, got %d", len(types), len(literals))
	}
	out := make([]interface{}, len(literals))
	for i, lit := range literals {
		v, err := resolveWebhookParam(types[i], lit)
		if err != nil {
			return nil, fmt.Errorf("parameter %d (%s): %w", i, types[i], err)
		}
		out[i] = v
	}
	return out, nil
}

func resolveWebhookParam(typ, literal string) (interface{}, error) {
	switch {
	case typ == "address":
		return common.HexToAddress(literal), nil
	case typ == "bool":
		return strconv.ParseBool(literal)
	case strings.HasPrefix(typ, "uint") || strings.HasPrefix(typ, "int"):
		v, ok := new(big.Int).SetString(literal, 10)
		if !ok {
			return nil, fmt.Errorf("not an integer literal: %q", literal)
		}
		return v, nil
	case typ == "string":
		return literal, nil
	case typ == "bytes" || strings.HasPrefix(typ, "bytes"):
		return common.FromHex(literal), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type for webhook call literal resolution: %s", typ)
	}
}
