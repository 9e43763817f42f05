package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/TxnLab/stakeledger/internal/lib/bank"
	"github.com/TxnLab/stakeledger/internal/lib/ledger"
)

// StateFile is everything persisted between runs: the ledger accounting and the bank holdings it
// references. Both halves are always written together.
type StateFile struct {
	Ledger *ledger.Snapshot `json:"ledger"`
	Bank   *bank.Snapshot   `json:"bank"`
}

func DefaultStatePath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "stakeledger", "state.json"), nil
}

// SaveState writes state into a temp file next to path and only replaces path once that fully succeeded.
func SaveState(path string, state *StateFile) error {
	err := os.MkdirAll(filepath.Dir(path), 0775) // user+group RWX, others RX
	if err != nil {
		return fmt.Errorf("error making directory:%s, error:%w", filepath.Dir(path), err)
	}
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(temp)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(state)
	if err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return fmt.Errorf("error saving state: %w", err)
	}

	err = temp.Close()
	if err != nil {
		_ = os.Remove(temp.Name())
		return err
	}

	err = os.Rename(temp.Name(), path)
	if err != nil {
		return err
	}
	slog.Debug("state saved", "file", path)
	return nil
}

// LoadState reads a state file. A missing file returns an error matching os.ErrNotExist.
func LoadState(path string) (*StateFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var state StateFile
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("error reading state %s: %w", path, err)
	}
	if state.Ledger == nil || state.Bank == nil {
		return nil, fmt.Errorf("state %s is incomplete", path)
	}
	return &state, nil
}
