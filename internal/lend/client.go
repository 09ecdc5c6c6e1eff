package lend

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrNetworkUnavailable wraps transport-level failures so callers can
	// tell "the network failed" apart from "the bytes were malformed".
	ErrNetworkUnavailable = errors.New("ledger unavailable")
	// ErrAccountNotFound means the ledger answered and the account does
	// not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// ledgerRPC is the slice of the RPC client the read path needs; tests
// inject fakes behind it.
type ledgerRPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Client reads and decodes lending accounts from the ledger. It never
// writes; mutations go through instructions the ledger applies.
type Client struct {
	rpc        ledgerRPC
	programID  solana.PublicKey
	commitment rpc.CommitmentType
}

func NewClient(rpcURL string, programID solana.PublicKey, commitment rpc.CommitmentType) *Client {
	return &Client{
		rpc:        rpc.New(rpcURL),
		programID:  programID,
		commitment: commitment,
	}
}

// NewClientWithRPC wires an existing RPC implementation, real or fake.
func NewClientWithRPC(ledger ledgerRPC, programID solana.PublicKey, commitment rpc.CommitmentType) *Client {
	return &Client{rpc: ledger, programID: programID, commitment: commitment}
}

func (c *Client) ProgramID() solana.PublicKey { return c.programID }

func (c *Client) FetchProtocolState(ctx context.Context) (*ProtocolState, error) {
	address, _, err := DeriveProtocolStatePDA(c.programID)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("protocol state %s: %w", address, err)
	}
	return ParseProtocolState(data)
}

// FetchMarket resolves the market for an underlying mint and decodes it.
func (c *Client) FetchMarket(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, *Market, error) {
	address, _, err := DeriveMarketPDA(c.programID, mint)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	data, err := c.fetchAccountData(ctx, address)
	if err != nil {
		return address, nil, fmt.Errorf("market %s: %w", address, err)
	}
	market, err := ParseMarket(data)
	if err != nil {
		return address, nil, fmt.Errorf("market %s: %w", address, err)
	}
	return address, market, nil
}

func (c *Client) FetchUserPosition(ctx context.Context, owner, market solana.PublicKey) (*UserPosition, error) {
	address, _, err := DeriveUserPositionPDA(c.programID, owner, market)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("user position %s: %w", address, err)
	}
	return ParseUserPosition(data)
}

func (c *Client) FetchLoan(ctx context.Context, collateralMarket, borrowMarket, borrower solana.PublicKey) (*Loan, error) {
	address, _, err := DeriveLoanPDA(c.programID, collateralMarket, borrowMarket, borrower)
	if err != nil {
		return nil, err
	}
	data, err := c.fetchAccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("loan %s: %w", address, err)
	}
	return ParseLoan(data)
}

// KeyedLoan pairs a decoded loan with its on-chain address.
type KeyedLoan struct {
	Address solana.PublicKey
	Loan    *Loan
}

// LoansByBorrower bulk-fetches every loan of one borrower by filtering
// on discriminator at offset 0 and borrower identity at offset 8.
func (c *Client) LoansByBorrower(ctx context.Context, borrower solana.PublicKey) ([]KeyedLoan, error) {
	result, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(DiscriminatorLoan[:])}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 8, Bytes: solana.Base58(borrower.Bytes())}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getProgramAccounts loans: %v", ErrNetworkUnavailable, err)
	}

	loans := make([]KeyedLoan, 0, len(result))
	for _, item := range result {
		if item == nil || item.Account == nil {
			continue
		}
		loan, err := ParseLoan(item.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("loan %s: %w", item.Pubkey, err)
		}
		loans = append(loans, KeyedLoan{Address: item.Pubkey, Loan: loan})
	}
	return loans, nil
}

func (c *Client) fetchAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, ErrAccountNotFound
	}
	return resp.Value.Data.GetBinary(), nil
}
