package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RIPEMD-160 is required by the Bitcoin protocol (Hash160)

	"github.com/walletkit/sendflow/pkg/models"
)

// Source derives BIP-44 keys and P2PKH addresses for one coin from a
// BIP-39 seed. Derivation path: m/44'/{coinType}'/{account}'/0/{index}.
// In production the private half would live on the hardware device; this
// source backs both discovery (addresses) and the software signer (keys).
type Source struct {
	seed []byte
	coin models.CoinParams
}

// NewSource returns a key source for the given seed and coin.
func NewSource(seed []byte, coin models.CoinParams) *Source {
	return &Source{seed: seed, coin: coin}
}

// Coin returns the coin this source derives for.
func (s *Source) Coin() models.CoinParams {
	return s.coin
}

// AccountAddress derives the external-chain address at the given account
// and index.
func (s *Source) AccountAddress(account, index uint32) (models.DerivedAddress, error) {
	key, err := s.deriveKey(account, index)
	if err != nil {
		return models.DerivedAddress{}, err
	}

	_, pubKey := btcec.PrivKeyFromBytes(key)
	compressed := pubKey.SerializeCompressed()

	addr, err := btcutil.NewAddressPubKeyHash(hash160(compressed), s.coin.Params)
	if err != nil {
		return models.DerivedAddress{}, fmt.Errorf("address: %w", err)
	}

	return models.DerivedAddress{
		Address:        addr.EncodeAddress(),
		DerivationPath: fmt.Sprintf("m/44'/%d'/%d'/0/%d", s.coin.Params.HDCoinType, account, index),
		PublicKey:      hex.EncodeToString(compressed),
	}, nil
}

// PrivateKey derives the private key backing the external-chain address at
// the given account and index.
func (s *Source) PrivateKey(account, index uint32) (*btcec.PrivateKey, error) {
	key, err := s.deriveKey(account, index)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(key)
	return priv, nil
}

// deriveKey derives the child private key at m/44'/{coinType}'/{account}'/0/{index}.
func (s *Source) deriveKey(account, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(s.seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	purpose, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}

	coin, err := purpose.NewChildKey(bip32.FirstHardenedChild + s.coin.Params.HDCoinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin: %w", err)
	}

	acct, err := coin.NewChildKey(bip32.FirstHardenedChild + account)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	change, err := acct.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	child, err := change.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child: %w", err)
	}

	return child.Key, nil
}

// hash160 computes RIPEMD160(SHA256(data)).
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}
