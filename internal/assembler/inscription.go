// Inscription -> Rune leg: the authority's inscription UTXO is spent as
// input 0 and the user's partial transaction supplies everything else.
package assembler

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// InscriptionSwapParams describes an inscription-for-runes swap.
type InscriptionSwapParams struct {
	// InscriptionTxid and InscriptionVout locate the custodial inscription UTXO.
	InscriptionTxid string
	InscriptionVout uint32

	// UserSwapTx is the user's serialized partial transaction: their Rune
	// inputs and the outputs both sides expect.
	UserSwapTx []byte
}

// AssembleInscriptionForRunes builds the swap transaction for the
// inscription->rune direction. The custodial inscription input is always
// placed first, so the authority's signing index is always 0 regardless of
// how many inputs the user supplies. Returns the serialized transaction and
// the single designation (0, authority).
func AssembleInscriptionForRunes(params *InscriptionSwapParams, authority *btcec.PublicKey) (*TransactionToSign, error) {
	userTx, err := decodeUserTx(params.UserSwapTx)
	if err != nil {
		return nil, err
	}

	outpoint, err := decodeOutPoint(params.InscriptionTxid, params.InscriptionVout)
	if err != nil {
		return nil, err
	}

	return assemble(userTx, []wire.OutPoint{*outpoint}, custodialFirst, authority)
}
