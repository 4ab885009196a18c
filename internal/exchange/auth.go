package exchange

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"polymarket-copytrade/pkg/types"
)

// Signature schemes accepted by the CTF exchange contract.
const (
	SigEOA        = 0 // externally-owned account (standard wallet)
	SigProxy      = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe = 2 // Gnosis Safe proxy (Polymarket deposit wallets)
)

// Credentials holds the L2 API key triplet returned by /auth/derive-api-key.
// These are used for HMAC-signed trading requests (L2 auth).
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth handles the two layers of Polymarket authentication plus order
// signing:
//
//   - L1 (EIP-712): signs a typed-data "ClobAuth" message with the wallet's
//     private key, proving ownership. Used once to derive L2 API keys.
//   - L2 (HMAC-SHA256): signs "timestamp + method + path [+ body]" with the
//     derived API secret. Used for all trading operations.
//   - Order signing: EIP-712 "Order" struct against the CTF exchange
//     contract.
//
// The funder address is the Safe/proxy wallet that holds USDC; it differs
// from the EOA signer address for Polymarket deposit wallets.
type Auth struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address // EOA derived from privateKey
	funderAddress common.Address // Safe/proxy wallet (== address if none)
	chainID       *big.Int
	sigType       int
	creds         Credentials
}

// NewAuth creates an Auth from a hex private key. funderAddress may be
// empty, in which case the EOA itself funds orders and sigType should be
// SigEOA.
func NewAuth(privateKeyHex, funderAddress string, sigType int, chainID int64) (*Auth, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	funder := address
	if funderAddress != "" {
		funder = common.HexToAddress(funderAddress)
	}

	return &Auth{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(chainID),
		sigType:       sigType,
	}, nil
}

// Address returns the EOA signer address.
func (a *Auth) Address() common.Address { return a.address }

// FunderAddress returns the funder/proxy wallet address.
func (a *Auth) FunderAddress() common.Address { return a.funderAddress }

// HasL2Credentials reports whether L2 API credentials are set.
func (a *Auth) HasL2Credentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// SetCredentials installs L2 API credentials (after deriving them via L1).
func (a *Auth) SetCredentials(creds Credentials) { a.creds = creds }

// L1Headers generates headers for L1-authenticated endpoints (key management).
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers generates headers for L2-authenticated trading endpoints.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// signClobAuth produces the EIP-712 signature for L1 authentication.
func (a *Auth) signClobAuth(timestamp string, nonce int) (string, error) {
	sig, err := a.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"ClobAuth",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

// SignOrder signs the on-chain Order struct against the CTF exchange
// contract. Side is 0 for BUY, 1 for SELL per the order-utils convention.
func (a *Auth) SignOrder(order *SignedOrder, exchangeAddress string) error {
	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return fmt.Errorf("invalid token id: %s", order.TokenID)
	}
	salt, ok := new(big.Int).SetString(order.Salt, 10)
	if !ok {
		return fmt.Errorf("invalid salt: %s", order.Salt)
	}
	expiration, ok := new(big.Int).SetString(order.Expiration, 10)
	if !ok {
		return fmt.Errorf("invalid expiration: %s", order.Expiration)
	}
	nonce, ok := new(big.Int).SetString(order.Nonce, 10)
	if !ok {
		return fmt.Errorf("invalid nonce: %s", order.Nonce)
	}
	feeRateBps, ok := new(big.Int).SetString(order.FeeRateBps, 10)
	if !ok {
		return fmt.Errorf("invalid feeRateBps: %s", order.FeeRateBps)
	}

	var side uint8 = 1
	if order.Side == types.BUY {
		side = 0
	}

	sig, err := a.signTypedData(
		&apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
			VerifyingContract: exchangeAddress,
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		apitypes.TypedDataMessage{
			"salt":          salt,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       tokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"expiration":    expiration,
			"nonce":         nonce,
			"feeRateBps":    feeRateBps,
			"side":          big.NewInt(int64(side)),
			"signatureType": big.NewInt(int64(order.SignatureType)),
		},
		"Order",
	)
	if err != nil {
		return fmt.Errorf("sign order: %w", err)
	}

	order.Signature = "0x" + common.Bytes2Hex(sig)
	return nil
}

// signTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (a *Auth) signTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// buildHMAC computes the HMAC-SHA256 signature for L2 auth.
// message = timestamp + method + requestPath [+ body]
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// PriceToAmounts converts a price and size to makerAmount and takerAmount
// as big.Int values scaled to 6 decimals (USDC and conditional tokens share
// the same precision).
//
// For BUY:  maker gives makerAmount USDC, receives takerAmount tokens.
// For SELL: maker gives makerAmount tokens, receives takerAmount USDC.
func PriceToAmounts(price, size float64, side types.Side) (makerAmt, takerAmt *big.Int) {
	scale := new(big.Float).SetFloat64(1e6)

	sizeRounded := roundDown(size, 2)
	usd := roundDown(sizeRounded*price, 4)

	sizeF := new(big.Float).Mul(new(big.Float).SetFloat64(sizeRounded), scale)
	usdF := new(big.Float).Mul(new(big.Float).SetFloat64(usd), scale)

	switch side {
	case types.BUY:
		makerAmt, _ = usdF.Int(nil)
		takerAmt, _ = sizeF.Int(nil)
	case types.SELL:
		makerAmt, _ = sizeF.Int(nil)
		takerAmt, _ = usdF.Int(nil)
	}

	return makerAmt, takerAmt
}

// roundDown truncates a float to the given number of decimal places.
func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
