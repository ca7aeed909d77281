package clearnode

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer holds the market-maker key and produces the two signature kinds the
// broker accepts: EIP-191 personal-sign over a request payload (every RPC
// frame) and an EIP-712 typed-data signature over an auth challenge.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex private key, with or without the 0x prefix. An
// empty key yields a fresh ephemeral identity so development environments
// run without configuration; production rejects the empty key at config
// validation.
func NewSigner(hexKey string) (*Signer, error) {
	var privateKey *ecdsa.PrivateKey
	var err error

	if hexKey == "" {
		privateKey, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("clearnode.NewSigner generate: %w", err)
		}
	} else {
		if len(hexKey) >= 2 && hexKey[:2] == "0x" {
			hexKey = hexKey[2:]
		}
		privateKey, err = crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("clearnode.NewSigner parse key: %w", err)
		}
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPayload produces the EIP-191 personal-sign signature over the
// canonical req payload bytes, hex encoded with 0x prefix.
func (s *Signer) SignPayload(payload []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("clearnode.SignPayload: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// SignChallenge signs the broker's auth challenge as EIP-712 typed data
// (primary type Policy, domain name = the configured application name).
func (s *Signer) SignChallenge(appName, challenge string, expire int64) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
			},
			"Policy": {
				{Name: "challenge", Type: "string"},
				{Name: "scope", Type: "string"},
				{Name: "wallet", Type: "address"},
				{Name: "application", Type: "address"},
				{Name: "participant", Type: "address"},
				{Name: "expire", Type: "uint256"},
			},
		},
		PrimaryType: "Policy",
		Domain: apitypes.TypedDataDomain{
			Name: appName,
		},
		Message: apitypes.TypedDataMessage{
			"challenge":   challenge,
			"scope":       "console",
			"wallet":      s.address.Hex(),
			"application": s.address.Hex(),
			"participant": s.address.Hex(),
			"expire":      strconv.FormatInt(expire, 10),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("clearnode.SignChallenge hash: %w", err)
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("clearnode.SignChallenge sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// expireString renders a unix expiry for the auth_request allowance window.
func expireString(unix int64) string {
	return strconv.FormatInt(unix, 10)
}
