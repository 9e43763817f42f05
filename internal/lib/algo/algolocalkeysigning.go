/*
 * Copyright (c) 2022. TxnLab Inc.
 * All Rights reserved.
 */

package algo

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/ed25519"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"

	"github.com/TxnLab/stakeledger/internal/lib/misc"
)

// NewLocalKeyStore returns a key store populated from every ALGO_MNEMONIC* environment variable.
func NewLocalKeyStore(log *slog.Logger) *LocalKeyStore {
	keyStore := NewEmptyKeyStore(log)
	keyStore.loadFromEnvironment()
	return keyStore
}

func NewEmptyKeyStore(log *slog.Logger) *LocalKeyStore {
	return &LocalKeyStore{
		log:  log,
		keys: map[string]ed25519.PrivateKey{},
	}
}

// LocalKeyStore holds the private keys of accounts the operator of this process can act for.
type LocalKeyStore struct {
	log *slog.Logger

	sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func (lk *LocalKeyStore) HasAccount(publicAddress string) bool {
	lk.RLock()
	defer lk.RUnlock()
	_, found := lk.keys[publicAddress]
	return found
}

func (lk *LocalKeyStore) FindFirstSigner(addresses []string) (string, error) {
	for _, address := range addresses {
		if lk.HasAccount(address) {
			return address, nil
		}
	}
	return "", ErrNoSigner
}

func (lk *LocalKeyStore) Accounts() []string {
	lk.RLock()
	defer lk.RUnlock()
	accounts := make([]string, 0, len(lk.keys))
	for account := range lk.keys {
		accounts = append(accounts, account)
	}
	slices.Sort(accounts)
	return accounts
}

func (lk *LocalKeyStore) SignBytes(publicAddress string, data []byte) ([]byte, error) {
	lk.RLock()
	key, found := lk.keys[publicAddress]
	lk.RUnlock()
	if !found {
		return nil, fmt.Errorf("key not found for address %s", publicAddress)
	}
	return crypto.SignBytes(key, data)
}

// loadFromEnvironment loads mnemonics from environment variables (can be in .env files as well) starting with "ALGO_MNEMONIC"
// and adds them to the keys map. If an error occurs while adding a mnemonic, a fatal error is logged and the
// application exits.
func (lk *LocalKeyStore) loadFromEnvironment() {
	var numMnemonics int
	for _, envVal := range os.Environ() {
		if !strings.HasPrefix(envVal, "ALGO_MNEMONIC") {
			continue
		}
		key := envVal[0:strings.IndexByte(envVal, '=')]
		envMnemonic := os.Getenv(key)
		if envMnemonic == "" {
			continue
		}
		if _, err := lk.AddMnemonic(envMnemonic); err != nil {
			lk.log.Error(fmt.Sprintf("fatal error in envMnemonic load, idx key:%s, err:%v", key, err))
			os.Exit(1)
		}
		numMnemonics++
	}
	misc.Debugf(lk.log, "loaded %d mnemonics", numMnemonics)
}

// AddMnemonic adds the account for the 25-word mnemonic, returning its address.
func (lk *LocalKeyStore) AddMnemonic(mnemonicPhrase string) (string, error) {
	key, err := mnemonic.ToPrivateKey(mnemonicPhrase)
	if err != nil {
		return "", fmt.Errorf("failed to add mnemonic: %w", err)
	}
	account, err := crypto.AccountFromPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to add mnemonic: %w", err)
	}
	lk.Lock()
	lk.keys[account.Address.String()] = key
	lk.Unlock()
	misc.Debugf(lk.log, "Added data for pk:%s", account.Address.String())
	return account.Address.String(), nil
}
