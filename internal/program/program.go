// Package program is the inbound instruction surface: it routes an opaque
// instruction buffer to one of the two swap assemblers by its leading opcode
// byte and decodes the Borsh-encoded parameters that follow it.
package program

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/near/borsh-go"

	"github.com/chimera-swap/chimerad/internal/assembler"
	"github.com/chimera-swap/chimerad/pkg/logging"
)

// Instruction opcodes. The opcode is the first byte of the instruction
// buffer; the Borsh-encoded parameter struct follows.
const (
	OpSwapInscriptionRune byte = 0x00
	OpSwapRuneInscription byte = 0x01
)

// Dispatch errors
var (
	ErrBadAccountSet     = errors.New("expected exactly one authority account")
	ErrUnknownOpcode     = errors.New("unknown instruction opcode")
	ErrInstructionDecode = errors.New("invalid instruction encoding")
	ErrEmptyInstruction  = errors.New("empty instruction")
)

// swapInscriptionRuneParams is the wire form of an inscription->rune
// instruction. Field order is the Borsh serialization order.
type swapInscriptionRuneParams struct {
	InscriptionTxid string
	InscriptionVout uint32
	UserSwapTx      []byte
}

// swapRuneInscriptionParams is the wire form of a rune->inscription
// instruction.
type swapRuneInscriptionParams struct {
	RuneTxids  []string
	RuneVouts  []uint32
	UserSwapTx []byte
}

// Program dispatches swap instructions to the assemblers.
type Program struct {
	log *logging.Logger
}

// New creates a Program.
func New() *Program {
	return &Program{
		log: logging.GetDefault().Component("program"),
	}
}

// Process validates the account set, routes the instruction by opcode and
// returns the assembled transaction with its signer designations. Every
// failure aborts the whole call; no partially assembled transaction is ever
// returned.
func (p *Program) Process(signers []*btcec.PublicKey, instruction []byte) (*assembler.TransactionToSign, error) {
	if len(signers) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrBadAccountSet, len(signers))
	}
	authority := signers[0]

	if len(instruction) == 0 {
		return nil, ErrEmptyInstruction
	}

	opcode := instruction[0]
	payload := instruction[1:]

	switch opcode {
	case OpSwapInscriptionRune:
		p.log.Debug("Processing inscription->rune swap")
		var raw swapInscriptionRuneParams
		if err := borsh.Deserialize(&raw, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInstructionDecode, err)
		}
		return assembler.AssembleInscriptionForRunes(&assembler.InscriptionSwapParams{
			InscriptionTxid: raw.InscriptionTxid,
			InscriptionVout: raw.InscriptionVout,
			UserSwapTx:      raw.UserSwapTx,
		}, authority)

	case OpSwapRuneInscription:
		p.log.Debug("Processing rune->inscription swap")
		var raw swapRuneInscriptionParams
		if err := borsh.Deserialize(&raw, payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInstructionDecode, err)
		}
		return assembler.AssembleRunesForInscription(&assembler.RuneSwapParams{
			RuneTxids:  raw.RuneTxids,
			RuneVouts:  raw.RuneVouts,
			UserSwapTx: raw.UserSwapTx,
		}, authority)

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, opcode)
	}
}

// EncodeInscriptionInstruction serializes an inscription->rune instruction
// buffer (opcode + Borsh params). Used by callers that speak the binary
// surface directly, and by tests.
func EncodeInscriptionInstruction(params *assembler.InscriptionSwapParams) ([]byte, error) {
	payload, err := borsh.Serialize(swapInscriptionRuneParams{
		InscriptionTxid: params.InscriptionTxid,
		InscriptionVout: params.InscriptionVout,
		UserSwapTx:      params.UserSwapTx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode instruction: %w", err)
	}
	return append([]byte{OpSwapInscriptionRune}, payload...), nil
}

// EncodeRuneInstruction serializes a rune->inscription instruction buffer.
func EncodeRuneInstruction(params *assembler.RuneSwapParams) ([]byte, error) {
	payload, err := borsh.Serialize(swapRuneInscriptionParams{
		RuneTxids:  params.RuneTxids,
		RuneVouts:  params.RuneVouts,
		UserSwapTx: params.UserSwapTx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode instruction: %w", err)
	}
	return append([]byte{OpSwapRuneInscription}, payload...), nil
}
