package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies a single NFT by collection contract and token id.
// Immutable once constructed; compare and key by UniqueID.
type Token struct {
	contract common.Address
	id       *big.Int
}

func NewToken(contract common.Address, id *big.Int) (Token, error) {
	if id == nil || id.Sign() < 0 {
		return Token{}, fmt.Errorf("missing or invalid token id")
	}
	return Token{contract: contract, id: new(big.Int).Set(id)}, nil
}

// MustToken is a convenience for code paths that already validated inputs.
func MustToken(contract common.Address, id *big.Int) Token {
	t, err := NewToken(contract, id)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Token) Contract() common.Address { return t.contract }

func (t Token) ID() *big.Int { return new(big.Int).Set(t.id) }

// UniqueID is the canonical map key: lower-case address + "_" + decimal id.
func (t Token) UniqueID() string {
	return strings.ToLower(t.contract.Hex()) + "_" + t.id.String()
}

func (t Token) String() string { return t.UniqueID() }
