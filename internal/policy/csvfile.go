package policy

import (
	"encoding/csv"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/domain"
)

var csvHeader = []string{"user", "contract", "tokenId", "insurance"}

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Load re-populates the store from the CSV at path, all policies active.
// A missing file is an empty store, not an error.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open policies: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read policies: %w", err)
	}
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		if len(row) != len(csvHeader) {
			return fmt.Errorf("policies row %d: want %d columns, got %d", i, len(csvHeader), len(row))
		}
		if !common.IsHexAddress(row[0]) || !common.IsHexAddress(row[1]) {
			return fmt.Errorf("policies row %d: bad address", i)
		}
		id, ok := new(big.Int).SetString(row[2], 10)
		if !ok {
			return fmt.Errorf("policies row %d: bad token id %q", i, row[2])
		}
		cap, err := ParseEther(row[3])
		if err != nil {
			return fmt.Errorf("policies row %d: %w", i, err)
		}
		token, err := domain.NewToken(common.HexToAddress(row[1]), id)
		if err != nil {
			return fmt.Errorf("policies row %d: %w", i, err)
		}
		p, err := domain.NewCancelPolicy(common.HexToAddress(row[0]), token, cap)
		if err != nil {
			return fmt.Errorf("policies row %d: %w", i, err)
		}
		if err := s.Add(p); err != nil {
			return fmt.Errorf("policies row %d: %w", i, err)
		}
	}
	return nil
}

// Save writes every policy to the CSV at path, one record each.
func (s *Store) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write policies: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range s.List(nil) {
		row := []string{
			strings.ToLower(p.User.Hex()),
			strings.ToLower(p.Token.Contract().Hex()),
			p.Token.ID().String(),
			formatEther(p.InsuranceCap),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ParseEther converts a decimal ether amount ("0.1") to wei.
func ParseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("bad ether amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("ether amount %q below 1 wei precision", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// formatEther renders wei as a decimal ether string without trailing zeros.
func formatEther(wei *big.Int) string {
	r := new(big.Rat).SetFrac(new(big.Int).Set(wei), weiPerEther)
	out := r.FloatString(18)
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	if out == "" {
		out = "0"
	}
	return out
}
