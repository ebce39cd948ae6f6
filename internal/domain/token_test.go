package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestTokenUniqueID(t *testing.T) {
	tok := MustToken(common.HexToAddress("0x34D85C9CDEB23FA97CB08333B511AC86E1C4E258"), big.NewInt(81312))
	require.Equal(t, "0x34d85c9cdeb23fa97cb08333b511ac86e1c4e258_81312", tok.UniqueID())
	require.Equal(t, tok.UniqueID(), tok.String())
}

func TestTokenValidation(t *testing.T) {
	addr := common.HexToAddress("0x1")
	_, err := NewToken(addr, nil)
	require.Error(t, err)
	_, err = NewToken(addr, big.NewInt(-1))
	require.Error(t, err)
	_, err = NewToken(addr, big.NewInt(0))
	require.NoError(t, err)
}

func TestTokenIsImmutable(t *testing.T) {
	id := big.NewInt(7)
	tok := MustToken(common.HexToAddress("0x1"), id)
	id.SetInt64(99)
	require.Equal(t, "7", tok.ID().String())

	tok.ID().SetInt64(42)
	require.Equal(t, "7", tok.ID().String())
}

func TestNewCancelPolicy(t *testing.T) {
	user := common.HexToAddress("0x743Fc8Ba2a5e435B376bD2a7Ee5c95B470C85C2d")
	tok := MustToken(common.HexToAddress("0x2"), big.NewInt(1))

	p, err := NewCancelPolicy(user, tok, big.NewInt(1))
	require.NoError(t, err)
	require.True(t, p.Active)

	_, err = NewCancelPolicy(user, tok, nil)
	require.Error(t, err)
	_, err = NewCancelPolicy(user, tok, big.NewInt(0))
	require.Error(t, err)
}
