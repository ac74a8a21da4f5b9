// Package chain submits settlement payloads to the external ledger relayer.
// Payloads are EIP-712 signed so the relayer can verify the engine's
// identity before anchoring state on chain.
package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// priceScale converts float prices and sizes to fixed-point uint256 values
// for hashing. 1e8 keeps sub-cent precision without overflow concerns.
const priceScale = 1e8

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// PositionSettlement(bytes32 positionId,uint8 kind,uint8 side,uint256 size,uint256 price,uint256 timestamp)
	positionSettlementTypeHash = ethcrypto.Keccak256(
		[]byte("PositionSettlement(bytes32 positionId,uint8 kind,uint8 side,uint256 size,uint256 price,uint256 timestamp)"),
	)

	// PriceBatch(bytes32 batchHash,uint256 count,uint256 timestamp)
	priceBatchTypeHash = ethcrypto.Keccak256(
		[]byte("PriceBatch(bytes32 batchHash,uint256 count,uint256 timestamp)"),
	)
)

// Signer signs settlement payloads with a secp256k1 key under the
// PulseSettlement EIP-712 domain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
	s.domainSep = ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("PulseSettlement")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(chainID)),
	))
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPositionSettlement signs one position transition. Kind 0 is open,
// 1 is close; side 0 long/yes, 1 short/no. Returns a hex 65-byte signature.
func (s *Signer) SignPositionSettlement(pos domain.Position, kind domain.SettlementKind, at time.Time) (string, error) {
	kindCode := big.NewInt(0)
	if kind == domain.SettlementKindClose {
		kindCode = big.NewInt(1)
	}
	sideCode := big.NewInt(0)
	if pos.Side == domain.SideShort || pos.Side == domain.SideNo {
		sideCode = big.NewInt(1)
	}
	price := pos.EntryPrice
	if kind == domain.SettlementKindClose && pos.ExitPrice != nil {
		price = *pos.ExitPrice
	}

	structHash := ethcrypto.Keccak256(concatBytes(
		positionSettlementTypeHash,
		ethcrypto.Keccak256([]byte(pos.ID)),
		bigIntTo32Bytes(kindCode),
		bigIntTo32Bytes(sideCode),
		bigIntTo32Bytes(scaled(pos.Size)),
		bigIntTo32Bytes(scaled(price)),
		bigIntTo32Bytes(big.NewInt(at.Unix())),
	))
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// SignPriceBatch signs a batch of price updates as a single commitment: the
// batch hash covers every update's market, price, and timestamp in order.
func (s *Signer) SignPriceBatch(updates []domain.PriceUpdate, at time.Time) (string, error) {
	var parts [][]byte
	for _, u := range updates {
		parts = append(parts,
			ethcrypto.Keccak256([]byte(u.MarketID)),
			bigIntTo32Bytes(scaled(u.NewPrice)),
			bigIntTo32Bytes(big.NewInt(u.CreatedAt.Unix())),
		)
	}
	batchHash := ethcrypto.Keccak256(concatBytes(parts...))

	structHash := ethcrypto.Keccak256(concatBytes(
		priceBatchTypeHash,
		batchHash,
		bigIntTo32Bytes(big.NewInt(int64(len(updates)))),
		bigIntTo32Bytes(big.NewInt(at.Unix())),
	))
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in
// {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("chain: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func scaled(f float64) *big.Int {
	if f < 0 {
		f = 0
	}
	return big.NewInt(int64(f * priceScale))
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
