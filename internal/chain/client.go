package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsemarkets/pulse/internal/domain"
)

const defaultTimeout = 15 * time.Second

// ClientConfig configures the relayer HTTP client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements domain.ChainLedger against the settlement relayer's JSON
// API. Every submission is signed; the relayer anchors it on chain and
// returns the transaction hash once confirmed.
type Client struct {
	baseURL string
	httpc   *http.Client
	signer  *Signer
	logger  *slog.Logger
	now     func() time.Time
}

func NewClient(cfg ClientConfig, signer *Signer, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chain: relayer base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: timeout},
		signer:  signer,
		logger:  logger.With(slog.String("component", "chain")),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

type positionSubmission struct {
	PositionID string  `json:"position_id"`
	PoolID     string  `json:"pool_id"`
	MarketID   string  `json:"market_id"`
	Kind       string  `json:"kind"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Sender     string  `json:"sender"`
	Signature  string  `json:"signature"`
}

type priceBatchSubmission struct {
	Updates   []priceEntry `json:"updates"`
	Count     int          `json:"count"`
	Timestamp int64        `json:"timestamp"`
	Sender    string       `json:"sender"`
	Signature string       `json:"signature"`
}

type priceEntry struct {
	MarketID  string  `json:"market_id"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

func (c *Client) SubmitPositionOpen(ctx context.Context, pos domain.Position) (string, error) {
	return c.submitPosition(ctx, pos, domain.SettlementKindOpen)
}

func (c *Client) SubmitPositionClose(ctx context.Context, pos domain.Position) (string, error) {
	return c.submitPosition(ctx, pos, domain.SettlementKindClose)
}

func (c *Client) submitPosition(ctx context.Context, pos domain.Position, kind domain.SettlementKind) (string, error) {
	at := c.now()
	sig, err := c.signer.SignPositionSettlement(pos, kind, at)
	if err != nil {
		return "", err
	}

	price := pos.EntryPrice
	if kind == domain.SettlementKindClose && pos.ExitPrice != nil {
		price = *pos.ExitPrice
	}
	body := positionSubmission{
		PositionID: pos.ID,
		PoolID:     pos.PoolID,
		MarketID:   pos.MarketID,
		Kind:       string(kind),
		Side:       string(pos.Side),
		Size:       pos.Size,
		Price:      price,
		Timestamp:  at.Unix(),
		Sender:     c.signer.Address().Hex(),
		Signature:  sig,
	}

	txHash, err := c.post(ctx, "/v1/settlements/positions", body)
	if err != nil {
		return "", fmt.Errorf("chain: submit position %s %s: %w", pos.ID, kind, err)
	}
	c.logger.DebugContext(ctx, "position submitted",
		slog.String("position_id", pos.ID),
		slog.String("kind", string(kind)),
		slog.String("tx_hash", txHash))
	return txHash, nil
}

func (c *Client) SubmitPriceBatch(ctx context.Context, updates []domain.PriceUpdate) (string, error) {
	if len(updates) == 0 {
		return "", nil
	}
	at := c.now()
	sig, err := c.signer.SignPriceBatch(updates, at)
	if err != nil {
		return "", err
	}

	entries := make([]priceEntry, 0, len(updates))
	for _, u := range updates {
		entries = append(entries, priceEntry{
			MarketID:  u.MarketID,
			Price:     u.NewPrice,
			Timestamp: u.CreatedAt.Unix(),
		})
	}
	body := priceBatchSubmission{
		Updates:   entries,
		Count:     len(entries),
		Timestamp: at.Unix(),
		Sender:    c.signer.Address().Hex(),
		Signature: sig,
	}

	txHash, err := c.post(ctx, "/v1/settlements/prices", body)
	if err != nil {
		return "", fmt.Errorf("chain: submit price batch: %w", err)
	}
	return txHash, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out submitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("relayer rejected (status %d): %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("relayer status %d", resp.StatusCode)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("relayer returned no transaction hash")
	}
	return out.TxHash, nil
}

var _ domain.ChainLedger = (*Client)(nil)
