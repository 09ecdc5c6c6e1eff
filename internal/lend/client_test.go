package lend

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger serves canned accounts keyed by address and replays a
// fixed error for everything else.
type fakeLedger struct {
	accounts map[solana.PublicKey][]byte
	loans    rpc.GetProgramAccountsResult
	err      error
}

func (f *fakeLedger) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	data := rpc.DataBytesOrJSONFromBytes(raw)
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: data}}, nil
}

func (f *fakeLedger) GetProgramAccountsWithOpts(_ context.Context, _ solana.PublicKey, _ *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.loans, nil
}

func TestFetchMarketDecodes(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	want := sampleMarket()

	marketAddr, _, err := DeriveMarketPDA(programID, want.Mint)
	require.NoError(t, err)

	ledger := &fakeLedger{accounts: map[solana.PublicKey][]byte{
		marketAddr: want.Encode(),
	}}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	gotAddr, got, err := client.FetchMarket(context.Background(), want.Mint)
	require.NoError(t, err)
	assert.Equal(t, marketAddr, gotAddr)
	assert.Equal(t, want, got)
}

func TestFetchMarketNotFound(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	client := NewClientWithRPC(&fakeLedger{}, programID, rpc.CommitmentConfirmed)

	_, _, err := client.FetchMarket(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NotErrorIs(t, err, ErrNetworkUnavailable)
}

func TestFetchMarketNetworkFailure(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	ledger := &fakeLedger{err: errors.New("connection refused")}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	_, _, err := client.FetchMarket(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestFetchUserPositionDecodes(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	market := solana.NewWallet().PublicKey()

	want := &UserPosition{
		Owner:           owner,
		Market:          market,
		DepositedShares: 777,
		Bump:            250,
	}
	addr, _, err := DeriveUserPositionPDA(programID, owner, market)
	require.NoError(t, err)

	ledger := &fakeLedger{accounts: map[solana.PublicKey][]byte{addr: want.Encode()}}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	got, err := client.FetchUserPosition(context.Background(), owner, market)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFetchProtocolStateRejectsForeignBytes(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	addr, _, err := DeriveProtocolStatePDA(programID)
	require.NoError(t, err)

	// Correct length, wrong kind.
	bad := make([]byte, ProtocolStateSize)
	copy(bad, DiscriminatorMarket[:])

	ledger := &fakeLedger{accounts: map[solana.PublicKey][]byte{addr: bad}}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	_, err = client.FetchProtocolState(context.Background())
	assert.ErrorIs(t, err, ErrBadDiscriminator)
}

func TestLoansByBorrower(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	borrower := solana.NewWallet().PublicKey()

	loan := &Loan{
		Borrower:         borrower,
		LoanID:           7,
		CollateralMarket: solana.NewWallet().PublicKey(),
		BorrowMarket:     solana.NewWallet().PublicKey(),
		CollateralAmount: 1000,
		BorrowedAmount:   400,
		Bump:             249,
	}
	loanAddr := solana.NewWallet().PublicKey()

	data := rpc.DataBytesOrJSONFromBytes(loan.Encode())
	ledger := &fakeLedger{loans: rpc.GetProgramAccountsResult{
		&rpc.KeyedAccount{Pubkey: loanAddr, Account: &rpc.Account{Data: data}},
	}}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	loans, err := client.LoansByBorrower(context.Background(), borrower)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, loanAddr, loans[0].Address)
	assert.Equal(t, loan, loans[0].Loan)
}

func TestLoansByBorrowerNetworkFailure(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	ledger := &fakeLedger{err: errors.New("timeout")}
	client := NewClientWithRPC(ledger, programID, rpc.CommitmentConfirmed)

	_, err := client.LoansByBorrower(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}
