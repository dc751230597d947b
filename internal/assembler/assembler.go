// Package assembler builds the combined swap transactions for the CHIMERA
// hybrid swap: one side of the transaction spends custodial UTXOs (the
// inscription or the Runes held by the signing authority), the other side is
// copied verbatim from the user's partial transaction. The assembler also
// produces the signer designations that tell the signing service exactly
// which input indices the authority must counter-sign.
package assembler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Assembly errors
var (
	ErrTxDecode      = errors.New("invalid transaction encoding")
	ErrInvalidTxID   = errors.New("invalid transaction ID")
	ErrParamMismatch = errors.New("rune txid/vout count mismatch")
)

// swapTxVersion is the version of every assembled transaction.
// Version 2 is required so the custodial inputs stay valid under BIP 68.
const swapTxVersion = 2

// InputToSign designates one input index the authority must sign.
type InputToSign struct {
	Index  uint32
	Signer *btcec.PublicKey
}

// TransactionToSign is the hand-off object for the signing service:
// the serialized transaction plus the ordered list of designations.
// The signing service signs exactly the designated indices and nothing else.
type TransactionToSign struct {
	TxBytes      []byte
	InputsToSign []InputToSign
}

// custodialPlacement controls where custodial inputs land in the input list.
type custodialPlacement int

const (
	// custodialFirst puts the custodial inputs before the user's inputs.
	// Used by the inscription leg so the authority always signs index 0.
	custodialFirst custodialPlacement = iota

	// custodialLast appends the custodial inputs after the user's inputs.
	// Used by the rune leg; the authority signs the trailing indices.
	custodialLast
)

// assemble builds the combined swap transaction from the user's decoded
// partial transaction and the custodial outpoints, placing the custodial
// inputs per placement, and returns the serialized result along with one
// designation per custodial input.
//
// User inputs and outputs are copied in their original order with no
// modification. Input order is load-bearing: the designation indices are
// derived from it, so this is the only place insertion order is decided.
func assemble(userTx *wire.MsgTx, custodial []wire.OutPoint, placement custodialPlacement, authority *btcec.PublicKey) (*TransactionToSign, error) {
	tx := wire.NewMsgTx(swapTxVersion)

	if placement == custodialFirst {
		for i := range custodial {
			tx.AddTxIn(newCustodialInput(&custodial[i]))
		}
	}

	for _, in := range userTx.TxIn {
		tx.AddTxIn(in)
	}

	for _, out := range userTx.TxOut {
		tx.AddTxOut(out)
	}

	custodialBase := uint32(0)
	if placement == custodialLast {
		custodialBase = uint32(len(userTx.TxIn))
		for i := range custodial {
			tx.AddTxIn(newCustodialInput(&custodial[i]))
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize swap transaction: %w", err)
	}

	inputs := make([]InputToSign, len(custodial))
	for i := range custodial {
		inputs[i] = InputToSign{
			Index:  custodialBase + uint32(i),
			Signer: authority,
		}
	}

	return &TransactionToSign{
		TxBytes:      buf.Bytes(),
		InputsToSign: inputs,
	}, nil
}

// newCustodialInput creates a fresh input spending a custodial outpoint.
// Script sig and witness stay empty until the signing service fills them;
// the max sequence disables BIP 68 relative locktime.
func newCustodialInput(outpoint *wire.OutPoint) *wire.TxIn {
	txIn := wire.NewTxIn(outpoint, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum
	return txIn
}

// decodeUserTx decodes the caller's partial transaction from raw bytes.
// The whole byte sequence must be one transaction: wire.MsgTx.Deserialize
// stops after the first transaction, so trailing bytes are rejected here.
func decodeUserTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(swapTxVersion)
	r := bytes.NewReader(raw)
	if err := tx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxDecode, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after transaction", ErrTxDecode, r.Len())
	}
	return tx, nil
}

// decodeOutPoint decodes a txid string and vout into an outpoint.
// The txid must be exactly 64 hex characters: chainhash pads short strings
// to 32 bytes, which would silently accept a malformed reference.
func decodeOutPoint(txid string, vout uint32) (*wire.OutPoint, error) {
	if len(txid) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxID, txid)
	}
	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxID, txid)
	}
	return wire.NewOutPoint(txHash, vout), nil
}

// DecodeTx decodes a serialized transaction. Exposed for callers that need
// to inspect an assembled transaction (RPC responses, tests).
func DecodeTx(raw []byte) (*wire.MsgTx, error) {
	return decodeUserTx(raw)
}
