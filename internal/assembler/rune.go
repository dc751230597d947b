// Rune -> Inscription leg: the user's partial transaction comes first and
// the authority's Rune UTXOs are appended at the end of the input list.
package assembler

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// RuneSwapParams describes a runes-for-inscription swap. RuneTxids and
// RuneVouts are parallel: entry i of each locates one custodial Rune UTXO.
type RuneSwapParams struct {
	RuneTxids []string
	RuneVouts []uint32

	// UserSwapTx is the user's serialized partial transaction: their
	// inscription input and the outputs both sides expect.
	UserSwapTx []byte
}

// AssembleRunesForInscription builds the swap transaction for the
// rune->inscription direction. The user's M inputs keep indices [0, M) and
// the N custodial Rune inputs are appended at [M, M+N), one designation per
// custodial input. A length mismatch between the parallel txid/vout slices
// fails the whole call: silently truncating would hand the signer a
// transaction missing custodial inputs it was told to expect.
func AssembleRunesForInscription(params *RuneSwapParams, authority *btcec.PublicKey) (*TransactionToSign, error) {
	if len(params.RuneTxids) != len(params.RuneVouts) {
		return nil, fmt.Errorf("%w: %d txids, %d vouts",
			ErrParamMismatch, len(params.RuneTxids), len(params.RuneVouts))
	}

	userTx, err := decodeUserTx(params.UserSwapTx)
	if err != nil {
		return nil, err
	}

	custodial := make([]wire.OutPoint, len(params.RuneTxids))
	for i, txid := range params.RuneTxids {
		outpoint, err := decodeOutPoint(txid, params.RuneVouts[i])
		if err != nil {
			return nil, fmt.Errorf("rune utxo %d: %w", i, err)
		}
		custodial[i] = *outpoint
	}

	return assemble(userTx, custodial, custodialLast, authority)
}
