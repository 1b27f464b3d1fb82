// Package abi wraps go-ethereum's ABI encoding behind a human-readable
// signature grammar (`name(type1,type2,...)`), the way the upstream
// web3 backend's Chainlink client and the VIGILUM oracle publisher
// build calldata inline, generalized here into a reusable parser with
// a process-wide signature cache (component D).
package abi

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

// Definition is a parsed call signature: its name and ordered argument
// types, ready for encoding or decoding.
type Definition struct {
	Name      string
	Types     []string
	Arguments ethabi.Arguments
}

var cache sync.Map // map[string]*Definition

// Parse parses a signature of the form `name(type1,type2,...)` into a
// Definition, consulting and populating the process-wide cache. The
// supported base types are address, bool, string, bytes, bytesN,
// uintN, intN, T[], T[N], and tuples of the above.
func Parse(signature string) (*Definition, error) {
	signature = strings.TrimSpace(signature)
	if cached, ok := cache.Load(signature); ok {
		return cached.(*Definition), nil
	}

	name, rawTypes, err := splitSignature(signature)
	if err != nil {
		return nil, err
	}

	args := make(ethabi.Arguments, 0, len(rawTypes))
	for i, rt := range rawTypes {
		t, err := ethabi.NewType(rt, "", nil)
		if err != nil {
			return nil, fmt.Errorf("signature %q: parameter %d (%q): %w", signature, i, rt, err)
		}
		args = append(args, ethabi.Argument{Type: t})
	}

	def := &Definition{Name: name, Types: rawTypes, Arguments: args}
	actual, _ := cache.LoadOrStore(signature, def)
	return actual.(*Definition), nil
}

// String re-renders the Definition as a normalized signature string,
// used to check the parse/render round trip.
func (d *Definition) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, strings.Join(d.Types, ","))
}

// splitSignature splits "name(a,b,c)" into name and the top-level
// comma-separated type list, respecting nested parentheses and
// brackets so tuple and array types are not split internally.
func splitSignature(signature string) (string, []string, error) {
	open := strings.Index(signature, "(")
	if open < 0 || !strings.HasSuffix(signature, ")") {
		return "", nil, fmt.Errorf("signature %q: missing parameter list", signature)
	}
	name := signature[:open]
	if name == "" {
		return "", nil, fmt.Errorf("signature %q: missing function name", signature)
	}
	body := signature[open+1 : len(signature)-1]
	if strings.TrimSpace(body) == "" {
		return name, nil, nil
	}

	var types []string
	depth := 0
	start := 0
	for i, r := range body {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return "", nil, fmt.Errorf("signature %q: unbalanced brackets", signature)
			}
		case ',':
			if depth == 0 {
				types = append(types, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, fmt.Errorf("signature %q: unbalanced brackets", signature)
	}
	types = append(types, strings.TrimSpace(body[start:]))
	return name, types, nil
}

// Selector returns the 4-byte function selector for the Definition.
func (d *Definition) Selector() [4]byte {
	return selector(d.String())
}

// Encode ABI-encodes params against d's argument types and prefixes
// the result with the 4-byte function selector, producing ready-to-send
// calldata. Arguments must already be in the Go types ethabi expects
// (*big.Int for uintN/intN, common.Address for address, and so on);
// callers resolve config-level literals to those types before calling.
func (d *Definition) Encode(params ...interface{}) ([]byte, error) {
	if len(params) != len(d.Arguments) {
		return nil, fmt.Errorf("%s: expected %d parameters, got %d", d.Name, len(d.Arguments), len(params))
	}
	for i, p := range params {
		v := reflect.ValueOf(p)
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			if err := validateArraySize(i, d.Types[i], v.Len()); err != nil {
				return nil, fmt.Errorf("%s: %w", d.Name, err)
			}
		}
	}
	packed, err := d.Arguments.PackValues(params)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", d.Name, err)
	}
	sel := d.Selector()
	out := make([]byte, 0, 4+len(packed))
	out = append(out, sel[:]...)
	out = append(out, packed...)
	return out, nil
}

// Decode ABI-decodes raw return data (without a selector) against d's
// argument types.
func (d *Definition) Decode(data []byte) ([]interface{}, error) {
	values, err := d.Arguments.UnpackValues(data)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", d.Name, err)
	}
	return values, nil
}

// validateArraySize checks a declared T[N] type string's literal size
// against the number of elements provided, surfacing the parameter
// index the way spec.md's error contract requires.
func validateArraySize(index int, declaredType string, got int) error {
	open := strings.Index(declaredType, "[")
	close := strings.LastIndex(declaredType, "]")
	if open < 0 || close <= open {
		return nil
	}
	sizeStr := declaredType[open+1 : close]
	if sizeStr == "" {
		return nil // dynamic array, no fixed arity to check
	}
	want, err := strconv.Atoi(sizeStr)
	if err != nil {
		return fmt.Errorf("parameter %d (%s): invalid array size literal %q", index, declaredType, sizeStr)
	}
	if got != want {
		return fmt.Errorf("parameter %d (%s): expected %d elements, got %d", index, declaredType, want, got)
	}
	return nil
}
