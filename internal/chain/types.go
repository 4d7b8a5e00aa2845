package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// BigInt is an arbitrary-precision integer field. The indexer serialises
// these either as JSON numbers or as decimal strings once the value
// outgrows double precision, so both shapes must decode.
type BigInt struct {
	big.Int
}

// NewBigInt builds a BigInt from an int64, mostly for tests and fixtures.
func NewBigInt(v int64) BigInt {
	var b BigInt
	b.SetInt64(v)
	return b
}

// UnmarshalJSON accepts both `123` and `"123"`.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		b.SetInt64(0)
		return nil
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer value %q", s)
	}
	return nil
}

// MarshalJSON always emits a string to stay lossless.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// Block is one block sample as reported by the indexer. Blocks are never
// constructed locally; every field is upstream data.
type Block struct {
	Height          uint64   `json:"height"`
	Timestamp       int64    `json:"timestamp"`
	AccumulatedWork BigInt   `json:"accumulatedWork"`
	EpochCounter    uint64   `json:"epochCounter"`
	Digest          string   `json:"digest"`
	TxIDs           []string `json:"txids"`
}

// Transaction carries the output structure needed for volume accounting.
type Transaction struct {
	ID      string   `json:"id"`
	Outputs []Output `json:"outputs"`
}

// Output groups the seeds minted by one transaction output.
type Output struct {
	Seeds []Seed `json:"seeds"`
}

// Seed is a single value assignment inside an output. Gift is denominated
// in the smallest on-chain unit.
type Seed struct {
	Gift       BigInt `json:"gift"`
	IsCoinbase bool   `json:"isCoinbase"`
}
