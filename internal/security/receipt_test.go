package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/unified-bridge/internal/model"
)

// well-known development key, never used outside tests
const testKey = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func sampleResult() model.BridgeResult {
	return model.BridgeResult{
		RequestID:         "req-1",
		Success:           true,
		Protocol:          "cctp",
		Status:            model.StatusCompleted,
		Attempt:           model.AttemptPrimary,
		SourceTxHash:      "0xabc",
		DestinationTxHash: "0xdef",
	}
}

func TestReceiptSigner_SignAndVerify(t *testing.T) {
	s, err := NewReceiptSigner(SignerOptions{PrivateKeyHex: testKey})
	require.NoError(t, err)
	assert.Equal(t, "0x71562b71999873DB5b286dF957af199Ec94617F7", s.Address().Hex())

	r, err := s.Sign(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, Algorithm, r.Algorithm)
	assert.Equal(t, s.Address().Hex(), r.Signer)
	assert.NoError(t, s.Verify(r))

	signer, err := Recover(r)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)
}

func TestReceiptSigner_DetectsTampering(t *testing.T) {
	s, err := NewReceiptSigner(SignerOptions{})
	require.NoError(t, err)

	r, err := s.Sign(sampleResult())
	require.NoError(t, err)

	tampered := r
	tampered.Result.DestinationTxHash = "0xevil"
	assert.ErrorIs(t, s.Verify(tampered), ErrIntegrityFailure)

	extended := r
	extended.ValidUntil += 3600
	assert.ErrorIs(t, s.Verify(extended), ErrIntegrityFailure)
}

func TestReceiptSigner_OtherSigner(t *testing.T) {
	a, err := NewReceiptSigner(SignerOptions{})
	require.NoError(t, err)
	b, err := NewReceiptSigner(SignerOptions{})
	require.NoError(t, err)

	r, err := a.Sign(sampleResult())
	require.NoError(t, err)
	assert.ErrorIs(t, b.Verify(r), ErrSignerMismatch)
}

func TestReceiptSigner_Expiry(t *testing.T) {
	s, err := NewReceiptSigner(SignerOptions{Validity: time.Minute})
	require.NoError(t, err)

	issued := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return issued }
	r, err := s.Sign(sampleResult())
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify(r), ErrReceiptExpired)
}

func TestNewReceiptSigner_BadKey(t *testing.T) {
	_, err := NewReceiptSigner(SignerOptions{PrivateKeyHex: "not-hex"})
	assert.Error(t, err)
}
