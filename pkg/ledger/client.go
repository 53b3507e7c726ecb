package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/internal/metrics"
)

// Wire error codes returned by the ledger gateway node.
const (
	nodeCodeAlreadyWiped  = "TOKEN_NOT_FOUND_IN_ACCOUNT"
	nodeCodeNotAssociated = "TOKEN_NOT_ASSOCIATED"
	nodeCodeNoAccount     = "ACCOUNT_NOT_FOUND"
)

// Client talks HTTP/JSON to a ledger gateway node and its mirror. It
// implements both Gateway and MirrorQuery.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	signer     OperatorSigner
	logger     *zap.Logger
}

// New creates a new ledger client.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := applyOptions(opts)
	if s.signer == nil {
		return nil, fmt.Errorf("operator signer is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := s.httpClient
	if httpClient == http.DefaultClient {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		signer:     s.signer,
		logger:     s.logger,
	}, nil
}

type nodeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// doNode POSTs a JSON body to the node and decodes the JSON response into out.
func (c *Client) doNode(ctx context.Context, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.LedgerCallDuration.WithLabelValues(path, status).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.NodeURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger node %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger node %s: read response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var nerr nodeError
		if json.Unmarshal(respBody, &nerr) == nil && nerr.Code != "" {
			switch nerr.Code {
			case nodeCodeAlreadyWiped:
				return fmt.Errorf("%s: %w", path, ErrNftAlreadyWiped)
			case nodeCodeNotAssociated:
				return fmt.Errorf("%s: %w", path, ErrNotAssociated)
			case nodeCodeNoAccount:
				return fmt.Errorf("%s: %w", path, ErrAccountNotFound)
			}
			return fmt.Errorf("ledger node %s: %s (%s)", path, nerr.Message, nerr.Code)
		}
		return fmt.Errorf("ledger node %s: status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("ledger node %s: decode response: %w", path, err)
		}
	}
	return nil
}

// signedBody wraps a transaction body with the operator signature plus any
// additional party signatures (co-signing custodial treasuries, holder
// approvals for associations).
type signedBody struct {
	Body       json.RawMessage `json:"body"`
	Signatures []Signature     `json:"signatures"`
}

func (c *Client) signBody(body any, extra ...Signature) (*signedBody, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.signRaw(raw, extra...)
}

func (c *Client) signRaw(raw []byte, extra ...Signature) (*signedBody, error) {
	operatorSig, err := c.signer(raw)
	if err != nil {
		return nil, fmt.Errorf("operator signing: %w", err)
	}
	sigs := append([]Signature{operatorSig}, extra...)
	return &signedBody{Body: raw, Signatures: sigs}, nil
}

// CreateAccount creates a ledger account controlled by publicKey, funded by the operator.
func (c *Client) CreateAccount(ctx context.Context, publicKey []byte, initialFunding int64) (AccountID, error) {
	body := struct {
		PublicKey      []byte    `json:"publicKey"`
		InitialFunding int64     `json:"initialFunding"`
		Payer          AccountID `json:"payerAccountId"`
	}{publicKey, initialFunding, c.cfg.OperatorAccountID}

	signed, err := c.signBody(body)
	if err != nil {
		return "", err
	}

	var out struct {
		AccountID AccountID `json:"accountId"`
	}
	if err := c.doNode(ctx, "/accounts", signed, &out); err != nil {
		return "", err
	}

	c.logger.Debug("ledger account created", zap.String("account_id", string(out.AccountID)))
	return out.AccountID, nil
}

// CreateCollection creates an NFT collection. Co-signatures in req.Signatures
// must cover req.SigningPayload().
func (c *Client) CreateCollection(ctx context.Context, req *CreateCollectionRequest) (CollectionID, error) {
	raw, err := req.SigningPayload()
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	signed, err := c.signRaw(raw, req.Signatures...)
	if err != nil {
		return "", err
	}

	var out struct {
		CollectionID CollectionID `json:"collectionId"`
	}
	if err := c.doNode(ctx, "/collections", signed, &out); err != nil {
		return "", err
	}

	c.logger.Info("collection created",
		zap.String("collection_id", string(out.CollectionID)),
		zap.String("treasury", string(req.TreasuryID)),
	)
	return out.CollectionID, nil
}

// MintNft mints one NFT into the collection treasury.
func (c *Client) MintNft(ctx context.Context, collection CollectionID, metadata []byte) (SerialNumber, error) {
	body := struct {
		CollectionID CollectionID `json:"collectionId"`
		Metadata     []byte       `json:"metadata"`
	}{collection, metadata}

	signed, err := c.signBody(body)
	if err != nil {
		return 0, err
	}

	var out struct {
		Serial SerialNumber `json:"serialNumber"`
	}
	if err := c.doNode(ctx, "/nfts/mint", signed, &out); err != nil {
		return 0, err
	}
	return out.Serial, nil
}

// TransferNft moves an NFT between accounts. Co-signatures in sigs must cover
// TransferSigningPayload(ref, from, to).
func (c *Client) TransferNft(ctx context.Context, ref NftRef, from, to AccountID, sigs []Signature) (TxID, error) {
	raw, err := TransferSigningPayload(ref, from, to)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}

	signed, err := c.signRaw(raw, sigs...)
	if err != nil {
		return "", err
	}

	var out struct {
		TxID TxID `json:"transactionId"`
	}
	if err := c.doNode(ctx, "/nfts/transfer", signed, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// WipeNft force-burns an NFT out of the holder's balance. The node rejects a
// second wipe of the same serial, which is what makes redemption single-use.
func (c *Client) WipeNft(ctx context.Context, ref NftRef, holder AccountID) (TxID, error) {
	body := struct {
		Ref    NftRef    `json:"nft"`
		Holder AccountID `json:"holder"`
	}{ref, holder}

	signed, err := c.signBody(body)
	if err != nil {
		return "", err
	}

	var out struct {
		TxID TxID `json:"transactionId"`
	}
	if err := c.doNode(ctx, "/nfts/wipe", signed, &out); err != nil {
		return "", err
	}

	c.logger.Info("nft wiped",
		zap.String("nft", ref.String()),
		zap.String("holder", string(holder)),
		zap.String("tx_id", string(out.TxID)),
	)
	return out.TxID, nil
}

// AssociateToken associates a collection with an account.
func (c *Client) AssociateToken(ctx context.Context, account AccountID, collection CollectionID, sigs []Signature) error {
	body := struct {
		Account    AccountID    `json:"accountId"`
		Collection CollectionID `json:"collectionId"`
	}{account, collection}

	signed, err := c.signBody(body, sigs...)
	if err != nil {
		return err
	}

	return c.doNode(ctx, "/tokens/associate", signed, nil)
}

// --- Mirror read path ---

// doMirror GETs a mirror path and decodes the JSON response into out.
// A 404 is reported through the notFound return, not as an error.
func (c *Client) doMirror(ctx context.Context, op, path string, out any) (notFound bool, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.MirrorCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MirrorURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("mirror %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("mirror %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return false, fmt.Errorf("mirror %s: decode response: %w", path, err)
	}
	return false, nil
}

// GetNftOwner returns the current NFT owner per the mirror, or "" when the
// NFT does not exist there (never minted, or wiped). Mirror state may lag the
// ledger; callers decide how to treat stale reads.
func (c *Client) GetNftOwner(ctx context.Context, ref NftRef) (AccountID, error) {
	path := fmt.Sprintf("/collections/%s/nfts/%d", url.PathEscape(string(ref.Collection)), ref.Serial)

	var out struct {
		Owner AccountID `json:"ownerAccountId"`
	}
	notFound, err := c.doMirror(ctx, "nft_owner", path, &out)
	if err != nil {
		return "", err
	}
	if notFound {
		return "", nil
	}
	return out.Owner, nil
}

// GetAccountBalance returns an account's fungible balance per the mirror.
func (c *Client) GetAccountBalance(ctx context.Context, account AccountID) (int64, error) {
	path := "/accounts/" + url.PathEscape(strings.TrimSpace(string(account))) + "/balance"

	var out struct {
		Balance int64 `json:"balance"`
	}
	notFound, err := c.doMirror(ctx, "account_balance", path, &out)
	if err != nil {
		return 0, err
	}
	if notFound {
		return 0, ErrAccountNotFound
	}
	return out.Balance, nil
}

var (
	_ Gateway     = (*Client)(nil)
	_ MirrorQuery = (*Client)(nil)
)
