// Package security signs bridge results so downstream consumers can verify that a
// receipt was issued by this service and has not been altered.
package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Algorithm names the signature scheme recorded on every receipt
const Algorithm = "secp256k1-keccak256"

var (
	ErrReceiptExpired   = errors.New("receipt expired")
	ErrSignerMismatch   = errors.New("receipt signed by a different key")
	ErrIntegrityFailure = errors.New("receipt hash does not match its content")
)

// SignerOptions configures receipt signing
type SignerOptions struct {
	// PrivateKeyHex is a hex secp256k1 key; a fresh key is generated when empty
	PrivateKeyHex string `json:"-"`

	// Validity is how long a receipt is accepted after issue
	Validity time.Duration `json:"validity"`
}

// Receipt is a signed, tamper-evident record of one bridge result
type Receipt struct {
	Result     model.BridgeResult `json:"result"`
	IssuedAt   int64              `json:"issuedAt"`
	ValidUntil int64              `json:"validUntil"`
	SHA256     string             `json:"sha256"`
	Keccak256  string             `json:"keccak256"`
	Signature  string             `json:"signature"`
	Signer     string             `json:"signer"`
	Algorithm  string             `json:"algorithm"`
}

type signedContent struct {
	Result     model.BridgeResult `json:"result"`
	IssuedAt   int64              `json:"issuedAt"`
	ValidUntil int64              `json:"validUntil"`
}

// ReceiptSigner issues and verifies receipts with an Ethereum-style key
type ReceiptSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	validity   time.Duration
	now        func() time.Time
}

// NewReceiptSigner loads or generates the signing key
func NewReceiptSigner(opts SignerOptions) (*ReceiptSigner, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if opts.PrivateKeyHex != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKeyHex, "0x"))
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if opts.Validity <= 0 {
		opts.Validity = 24 * time.Hour
	}

	s := &ReceiptSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		validity:   opts.Validity,
		now:        time.Now,
	}
	logrus.Infof("Receipt signer initialized with address: %s", s.address.Hex())
	return s, nil
}

// Address returns the Ethereum address of the signing key
func (s *ReceiptSigner) Address() common.Address {
	return s.address
}

// Sign issues a receipt for result
func (s *ReceiptSigner) Sign(result model.BridgeResult) (Receipt, error) {
	now := s.now()
	content := signedContent{
		Result:     result,
		IssuedAt:   now.Unix(),
		ValidUntil: now.Add(s.validity).Unix(),
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to marshal receipt: %w", err)
	}

	hash := crypto.Keccak256Hash(payload)
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to sign receipt: %w", err)
	}

	return Receipt{
		Result:     result,
		IssuedAt:   content.IssuedAt,
		ValidUntil: content.ValidUntil,
		SHA256:     fmt.Sprintf("%x", sha256.Sum256(payload)),
		Keccak256:  hash.Hex(),
		Signature:  fmt.Sprintf("0x%x", signature),
		Signer:     s.address.Hex(),
		Algorithm:  Algorithm,
	}, nil
}

// Verify checks a receipt's hashes, signature and expiry, and that it was signed by this signer
func (s *ReceiptSigner) Verify(r Receipt) error {
	signer, err := Recover(r)
	if err != nil {
		return err
	}
	if signer != s.address {
		return fmt.Errorf("%w: %s", ErrSignerMismatch, signer.Hex())
	}
	if s.now().Unix() > r.ValidUntil {
		return fmt.Errorf("%w at %v", ErrReceiptExpired, time.Unix(r.ValidUntil, 0).UTC())
	}
	return nil
}

// Recover validates a receipt's integrity and returns the address that signed it
func Recover(r Receipt) (common.Address, error) {
	payload, err := json.Marshal(signedContent{Result: r.Result, IssuedAt: r.IssuedAt, ValidUntil: r.ValidUntil})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to marshal receipt: %w", err)
	}

	hash := crypto.Keccak256Hash(payload)
	if hash.Hex() != r.Keccak256 || fmt.Sprintf("%x", sha256.Sum256(payload)) != r.SHA256 {
		return common.Address{}, ErrIntegrityFailure
	}

	signature := common.FromHex(r.Signature)
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	pub, err := crypto.SigToPub(hash.Bytes(), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
