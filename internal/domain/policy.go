package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CancelPolicy insures a single token listing: if a purchase for the token
// shows up in the mempool, the engine races a cancel on behalf of User and
// spends at most InsuranceCap on it.
//
// At most one policy exists per token, and ownership never changes once set.
// Active flips to false exactly once, when a cancellation has been dispatched;
// a human re-arms it.
type CancelPolicy struct {
	User         common.Address
	Token        Token
	InsuranceCap *big.Int
	Active       bool
}

func NewCancelPolicy(user common.Address, token Token, insuranceCap *big.Int) (CancelPolicy, error) {
	if insuranceCap == nil || insuranceCap.Sign() <= 0 {
		return CancelPolicy{}, fmt.Errorf("missing or invalid insurance cap")
	}
	return CancelPolicy{
		User:         user,
		Token:        token,
		InsuranceCap: new(big.Int).Set(insuranceCap),
		Active:       true,
	}, nil
}

func (p CancelPolicy) String() string {
	return fmt.Sprintf("policy %s user=%s cap=%s active=%t",
		p.Token.UniqueID(), strings.ToLower(p.User.Hex()), p.InsuranceCap, p.Active)
}
