package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature does not recover to the
// expected address.
var ErrBadSignature = errors.New("crypto: signature does not match signer")

// Signer signs EIP-191 personal messages with a secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an existing key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateSigner creates a signer over a fresh random key, used for
// ephemeral session keys.
func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address { return s.address }

// SignMessage signs msg with the "\x19Ethereum Signed Message:\n" prefix and
// returns the 65-byte signature with v in {27,28}.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	if s.key == nil {
		return nil, errors.New("crypto/signer: key wiped")
	}
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// Wipe clears the private scalar. The signer cannot sign afterwards.
func (s *Signer) Wipe() {
	if s.key != nil && s.key.D != nil {
		s.key.D.SetInt64(0)
	}
	s.key = nil
}

// RecoverAddress returns the address that produced sig over msg.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want 65", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SessionAuthorization is a wallet's signed statement delegating to a
// session key until ExpiresAt.
type SessionAuthorization struct {
	SessionID  string    `json:"session_id"`
	Wallet     string    `json:"wallet"`
	SessionKey string    `json:"session_key"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Signature  string    `json:"signature"`
}

// Message renders the exact text the wallet signs.
func (a SessionAuthorization) Message() []byte {
	var b strings.Builder
	b.WriteString("marketstate session authorization\n")
	fmt.Fprintf(&b, "wallet: %s\n", a.Wallet)
	fmt.Fprintf(&b, "session key: %s\n", a.SessionKey)
	fmt.Fprintf(&b, "session id: %s\n", a.SessionID)
	fmt.Fprintf(&b, "issued at: %s\n", a.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "expires at: %s", a.ExpiresAt.UTC().Format(time.RFC3339))
	return []byte(b.String())
}

// AuthorizeSession signs a delegation from s to sessionKey.
func (s *Signer) AuthorizeSession(sessionID string, sessionKey common.Address, issuedAt time.Time, ttl time.Duration) (SessionAuthorization, error) {
	a := SessionAuthorization{
		SessionID:  sessionID,
		Wallet:     s.address.Hex(),
		SessionKey: sessionKey.Hex(),
		IssuedAt:   issuedAt.UTC().Truncate(time.Second),
		ExpiresAt:  issuedAt.Add(ttl).UTC().Truncate(time.Second),
	}
	sig, err := s.SignMessage(a.Message())
	if err != nil {
		return SessionAuthorization{}, err
	}
	a.Signature = "0x" + hex.EncodeToString(sig)
	return a, nil
}

// Verify checks that a was signed by a.Wallet and has not expired at now.
func (a SessionAuthorization) Verify(now time.Time) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(a.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("crypto/signer: signature hex: %w", err)
	}
	addr, err := RecoverAddress(a.Message(), sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(addr.Hex(), a.Wallet) {
		return ErrBadSignature
	}
	if !now.Before(a.ExpiresAt) {
		return fmt.Errorf("crypto/signer: authorization expired at %s", a.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
