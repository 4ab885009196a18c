package exchange

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"polymarket-copytrade/pkg/types"
)

// Polygon mainnet contracts the CLOB settles against.
const (
	CTFExchangeAddress     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	CollateralAddress      = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174" // USDC
	PolygonChainID         = 137
)

// zeroAddress as taker means the order is open to any counterparty.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// SignedOrder is the EIP-712 order struct in the wire shape the CLOB
// expects. Numeric fields are decimal strings; amounts are scaled to 6
// decimals.
type SignedOrder struct {
	Salt          string     `json:"salt"`
	Maker         string     `json:"maker"`
	Signer        string     `json:"signer"`
	Taker         string     `json:"taker"`
	TokenID       string     `json:"tokenId"`
	MakerAmount   string     `json:"makerAmount"`
	TakerAmount   string     `json:"takerAmount"`
	Expiration    string     `json:"expiration"`
	Nonce         string     `json:"nonce"`
	FeeRateBps    string     `json:"feeRateBps"`
	Side          types.Side `json:"side"`
	SignatureType int        `json:"signatureType"`
	Signature     string     `json:"signature"`
}

// buildOrder constructs and signs a GTC limit order. Price and shares are
// truncated to 2 decimals before amount conversion so the venue never sees
// more precision than it accepts.
func (a *Auth) buildOrder(tokenID string, price, shares decimal.Decimal, side types.Side, negRisk bool) (*SignedOrder, error) {
	priceF, _ := price.Truncate(2).Float64()
	sharesF, _ := shares.Truncate(2).Float64()

	makerAmt, takerAmt := PriceToAmounts(priceF, sharesF, side)
	if makerAmt == nil || takerAmt == nil {
		return nil, fmt.Errorf("invalid side %q", side)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	order := &SignedOrder{
		Salt:          salt.String(),
		Maker:         a.funderAddress.Hex(),
		Signer:        a.address.Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: a.sigType,
	}

	exchange := CTFExchangeAddress
	if negRisk {
		exchange = NegRiskExchangeAddress
	}
	if err := a.SignOrder(order, exchange); err != nil {
		return nil, err
	}
	return order, nil
}
