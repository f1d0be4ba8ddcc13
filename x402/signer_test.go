package x402

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Throwaway key; never funded.
const (
	testPrivateKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testSignerAddr  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testUSDCAddress = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func TestNewLocalSignerAddress(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, testSignerAddr, signer.Address())

	// 0x prefix is equivalent.
	prefixed, err := NewLocalSigner("0x" + testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), prefixed.Address())
}

func TestNewLocalSignerRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "zz", "0x1234"} {
		_, err := NewLocalSigner(key)
		assert.Error(t, err, key)
	}
}

func testTypedData(t *testing.T) (TypedDataDomain, map[string]interface{}) {
	t.Helper()

	nonce, err := CreateNonce()
	require.NoError(t, err)

	domain := TypedDataDomain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: testUSDCAddress,
	}
	message, err := typedDataMessage(&ExactEvmAuthorization{
		From:        testSignerAddr,
		To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000300",
		Nonce:       nonce,
	})
	require.NoError(t, err)
	return domain, message
}

func TestSignTypedDataShape(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	domain, message := testTypedData(t)
	sig, err := signer.SignTypedData(context.Background(), domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)

	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])
}

func TestSignTypedDataRecoversAddress(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	domain, message := testTypedData(t)
	sig, err := signer.SignTypedData(context.Background(), domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)

	digest, err := hashTypedData(domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
	require.NoError(t, err)

	recoverable := make([]byte, 65)
	copy(recoverable, sig)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(digest, recoverable)
	require.NoError(t, err)
	assert.Equal(t, testSignerAddr, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignTypedDataHonorsContext(t *testing.T) {
	signer, err := NewLocalSigner(testPrivateKey)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	domain, message := testTypedData(t)
	_, err = signer.SignTypedData(ctx, domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
	assert.ErrorIs(t, err, context.Canceled)
}
