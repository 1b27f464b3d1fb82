package abi

import (
	"fmt"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EventParam names one event parameter for log decoding: its Solidity
// type and whether it's part of the indexed topic list or the
// non-indexed data blob.
type EventParam struct {
	Name    string
	Type    string
	Indexed bool
}

// DecodeEventLog ABI-decodes a log's indexed topics and non-indexed
// data section into a name-keyed map, given the event's parameters in
// their declared order. topics[0] (the event signature hash) is
// skipped; params must account for the remaining topics in order.
func DecodeEventLog(params []EventParam, topics []common.Hash, data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))

	var nonIndexed ethabi.Arguments
	var nonIndexedNames []string
	topicIdx := 1

	for _, p := range params {
		t, err := ethabi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("event param %s: %w", p.Name, err)
		}
		if !p.Indexed {
			nonIndexed = append(nonIndexed, ethabi.Argument{Name: p.Name, Type: t})
			nonIndexedNames = append(nonIndexedNames, p.Name)
			continue
		}
		if topicIdx >= len(topics) {
			return nil, fmt.Errorf("event param %s: log has no topic at index %d", p.Name, topicIdx)
		}
		v, err := decodeIndexedTopic(t, topics[topicIdx])
		if err != nil {
			return nil, fmt.Errorf("event param %s: %w", p.Name, err)
		}
		out[p.Name] = v
		topicIdx++
	}

	if len(nonIndexed) > 0 {
		values, err := nonIndexed.UnpackValues(data)
		if err != nil {
			return nil, fmt.Errorf("unpack non-indexed event data: %w", err)
		}
		for i, name := range nonIndexedNames {
			out[name] = values[i]
		}
	}
	return out, nil
}

// decodeIndexedTopic decodes a single 32-byte topic word. Dynamic types
// (string, bytes, arrays, tuples) are stored in a topic as
// keccak256(value), which isn't invertible, so those surface as the raw
// topic hex instead of a decoded value, matching how block explorers
// display unrecoverable indexed dynamic parameters.
func decodeIndexedTopic(t ethabi.Type, topic common.Hash) (interface{}, error) {
	switch t.T {
	case ethabi.StringTy, ethabi.BytesTy, ethabi.SliceTy, ethabi.ArrayTy, ethabi.TupleTy:
		return topic.Hex(), nil
	default:
		values, err := ethabi.Arguments{{Type: t}}.UnpackValues(topic.Bytes())
		if err != nil {
			return nil, err
		}
		return values[0], nil
	}
}
