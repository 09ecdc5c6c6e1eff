package lend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrSignerUnavailable means the signing capability could not produce
	// a signature (locked wallet, missing key, dead signer process).
	ErrSignerUnavailable = errors.New("signer unavailable")
	// ErrUserRejected means the user declined the signature prompt.
	ErrUserRejected = errors.New("user rejected signing")
)

// Signer is the injected signing capability. The core never constructs
// or holds raw secret material; it hands a built transaction to whatever
// implements this.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// KeypairSigner signs with a local Solana keygen file.
type KeypairSigner struct {
	key solana.PrivateKey
}

func NewKeypairSigner(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load keypair %q: %v", ErrSignerUnavailable, path, err)
	}
	return &KeypairSigner{key: key}, nil
}

func (s *KeypairSigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *KeypairSigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if s.key.PublicKey().Equals(key) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	return nil
}

// SendOptions tune submission; zero value means the RPC defaults.
type SendOptions struct {
	SkipPreflight bool
	MaxRetries    *uint
	Timeout       time.Duration
}

// Submitter assembles, signs, sends and confirms transactions built from
// lending instructions. Failed simulations are translated back through
// the protocol error table so callers see why the chain said no.
type Submitter struct {
	rpc        *rpc.Client
	signer     Signer
	commitment rpc.CommitmentType
}

func NewSubmitter(rpcClient *rpc.Client, signer Signer, commitment rpc.CommitmentType) *Submitter {
	return &Submitter{rpc: rpcClient, signer: signer, commitment: commitment}
}

// SendAndConfirm signs and submits the instructions as one transaction
// and blocks until the cluster confirms it or ctx expires.
func (s *Submitter) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, opts SendOptions) (solana.Signature, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	recent, err := s.rpc.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: get latest blockhash: %v", ErrNetworkUnavailable, err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if err := s.signer.Sign(tx); err != nil {
		return solana.Signature{}, err
	}

	sendOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: s.commitment,
	}
	if opts.MaxRetries != nil {
		retries := *opts.MaxRetries
		sendOpts.MaxRetries = &retries
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, sendOpts)
	if err != nil {
		return solana.Signature{}, translateSendError(err)
	}

	if err := s.waitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (s *Submitter) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// translateSendError digs the protocol error out of a rejected
// preflight so the caller gets "LtvExceeded", not an opaque RPC blob.
func translateSendError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if protocolErr, extractErr := ExtractProtocolError(simulationLogs(rpcErr)); extractErr == nil {
			return protocolErr
		}
	}
	return fmt.Errorf("%w: send transaction: %v", ErrNetworkUnavailable, err)
}

func simulationLogs(rpcErr *jsonrpc.RPCError) []string {
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return nil
	}
	rawLogs, ok := data["logs"].([]any)
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(rawLogs))
	for _, raw := range rawLogs {
		if line, ok := raw.(string); ok {
			logs = append(logs, line)
		}
	}
	return logs
}
