// Package signer keeps the operator's named signing keys and resolves them
// by controlling address.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoSigner = errors.New("no signer for address")

type Manager struct {
	byName    map[string]*ecdsa.PrivateKey
	byAddress map[common.Address]*ecdsa.PrivateKey
}

func NewManager() *Manager {
	return &Manager{
		byName:    make(map[string]*ecdsa.PrivateKey),
		byAddress: make(map[common.Address]*ecdsa.PrivateKey),
	}
}

// Add registers a named private key. Duplicate names are an operator
// mistake, not something to silently overwrite.
func (m *Manager) Add(name, pkHex string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("missing signer name")
	}
	if _, ok := m.byName[name]; ok {
		return fmt.Errorf("signer %s already exists", name)
	}
	prv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	if err != nil {
		return fmt.Errorf("signer %s: %w", name, err)
	}
	m.byName[name] = prv
	m.byAddress[crypto.PubkeyToAddress(prv.PublicKey)] = prv
	return nil
}

// LoadPairs parses "name:hexkey,name:hexkey" config syntax.
func (m *Manager) LoadPairs(pairs string) error {
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pk, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("bad signer pair %q, want name:hexkey", pair)
		}
		if err := m.Add(name, pk); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the private key controlling addr.
func (m *Manager) Key(addr common.Address) (*ecdsa.PrivateKey, error) {
	prv, ok := m.byAddress[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, addr.Hex())
	}
	return prv, nil
}

func (m *Manager) Has(addr common.Address) bool {
	_, ok := m.byAddress[addr]
	return ok
}

// Addresses lists controlled addresses, sorted, for boot logging.
func (m *Manager) Addresses() []common.Address {
	out := make([]common.Address, 0, len(m.byAddress))
	for addr := range m.byAddress {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (m *Manager) Len() int { return len(m.byName) }
