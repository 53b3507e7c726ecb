// Package ledger abstracts the distributed ledger that records coupon NFT
// ownership. Mutating operations go through the ledger node; reads of
// eventually-consistent state go through the mirror.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AccountID identifies a ledger account, e.g. "0.0.9321".
type AccountID string

// CollectionID identifies an NFT collection (token class) on the ledger.
type CollectionID string

// SerialNumber identifies one NFT instance within a collection.
type SerialNumber int64

// TxID identifies a submitted ledger transaction.
type TxID string

// NftRef uniquely identifies an NFT instance.
type NftRef struct {
	Collection CollectionID `json:"collectionId"`
	Serial     SerialNumber `json:"serialNumber"`
}

func (r NftRef) String() string {
	return fmt.Sprintf("%s:%d", r.Collection, r.Serial)
}

// ParseNftRef parses the "<collection>:<serial>" wire form of an NFT reference.
func ParseNftRef(s string) (NftRef, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return NftRef{}, fmt.Errorf("invalid nft reference %q", s)
	}
	serial, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil || serial <= 0 {
		return NftRef{}, fmt.Errorf("invalid nft reference %q", s)
	}
	return NftRef{Collection: CollectionID(s[:idx]), Serial: SerialNumber(serial)}, nil
}

// Signature is one party's signature over a transaction body.
type Signature struct {
	PublicKey []byte `json:"publicKey"` // 33-byte compressed secp256k1
	Bytes     []byte `json:"signature"` // 64-byte R||S
}

// Typed failures the gateway can surface. Anything else is a transport-level
// failure the caller may retry with backoff.
var (
	// ErrNftAlreadyWiped means the wipe target no longer exists in the holder's
	// balance. The wipe is the single-use gate for redemption, so callers treat
	// this as "somebody else redeemed first".
	ErrNftAlreadyWiped = errors.New("nft already wiped")

	// ErrNotAssociated means the receiving account has not associated the
	// collection and cannot hold its tokens.
	ErrNotAssociated = errors.New("account not associated with collection")

	// ErrAccountNotFound means the referenced account does not exist on the ledger.
	ErrAccountNotFound = errors.New("ledger account not found")
)

// CreateCollectionRequest describes a new NFT collection.
type CreateCollectionRequest struct {
	Name       string      `json:"name"`
	Symbol     string      `json:"symbol"`
	TreasuryID AccountID   `json:"treasuryAccountId"`
	// AdminID holds admin, supply, and wipe authority over the collection.
	AdminID    AccountID   `json:"adminAccountId"`
	Signatures []Signature `json:"signatures"`
}

// SigningPayload returns the canonical transaction body a co-signing party
// must sign. It is exactly the body the client submits to the node.
func (r *CreateCollectionRequest) SigningPayload() ([]byte, error) {
	body := struct {
		Name       string    `json:"name"`
		Symbol     string    `json:"symbol"`
		TreasuryID AccountID `json:"treasuryAccountId"`
		AdminID    AccountID `json:"adminAccountId"`
	}{r.Name, r.Symbol, r.TreasuryID, r.AdminID}
	return json.Marshal(body)
}

// TransferSigningPayload returns the canonical transfer body a co-signing
// party must sign. It is exactly the body the client submits to the node.
func TransferSigningPayload(ref NftRef, from, to AccountID) ([]byte, error) {
	body := struct {
		Ref  NftRef    `json:"nft"`
		From AccountID `json:"from"`
		To   AccountID `json:"to"`
	}{ref, from, to}
	return json.Marshal(body)
}

// Gateway is the write path to the ledger node. Calls are submitted
// asynchronously by the node; this interface blocks until the node accepts or
// rejects the submission. No internal retries: callers own retry policy.
type Gateway interface {
	// CreateAccount creates a ledger account controlled by the given public
	// key, funded by the operator with initialFunding.
	CreateAccount(ctx context.Context, publicKey []byte, initialFunding int64) (AccountID, error)

	// CreateCollection creates an NFT collection.
	CreateCollection(ctx context.Context, req *CreateCollectionRequest) (CollectionID, error)

	// MintNft mints one NFT with the given metadata into a collection,
	// returning its serial number. The minted unit is held by the treasury.
	MintNft(ctx context.Context, collection CollectionID, metadata []byte) (SerialNumber, error)

	// TransferNft moves an NFT between accounts.
	TransferNft(ctx context.Context, ref NftRef, from, to AccountID, sigs []Signature) (TxID, error)

	// WipeNft force-burns an NFT out of the holder's balance. Irreversible and
	// intrinsically exclusive: a wiped NFT cannot be wiped twice.
	WipeNft(ctx context.Context, ref NftRef, holder AccountID) (TxID, error)

	// AssociateToken associates a collection with an account so it may hold
	// the collection's tokens. Requires the account holder's signature.
	AssociateToken(ctx context.Context, account AccountID, collection CollectionID, sigs []Signature) error
}

// MirrorQuery is the read path against the eventually-consistent mirror.
// Results may lag the ledger by a few seconds after a recent transaction.
type MirrorQuery interface {
	// GetNftOwner returns the current owner of an NFT, or "" if the NFT does
	// not exist (never minted, or wiped).
	GetNftOwner(ctx context.Context, ref NftRef) (AccountID, error)

	// GetAccountBalance returns an account's fungible balance.
	GetAccountBalance(ctx context.Context, account AccountID) (int64, error)
}
