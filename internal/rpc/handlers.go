package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/chimera-swap/chimerad/internal/assembler"
	"github.com/chimera-swap/chimerad/internal/signer"
	"github.com/chimera-swap/chimerad/internal/storage"
	"github.com/chimera-swap/chimerad/pkg/helpers"
	"github.com/google/uuid"
)

// errInvalidParams marks request parameter errors that are not assembly
// errors, so errorCode maps them to InvalidParams.
var errInvalidParams = errors.New("invalid params")

// DesignationInfo is one signer designation in an RPC result.
type DesignationInfo struct {
	Index  uint32 `json:"index"`
	Signer string `json:"signer"`
}

// SwapResult is the result of an assembly method.
type SwapResult struct {
	RequestID    string            `json:"request_id"`
	Direction    string            `json:"direction"`
	TxHex        string            `json:"tx_hex"`
	InputsToSign []DesignationInfo `json:"inputs_to_sign"`

	UserInputCount int    `json:"user_input_count"`
	CustodialCount int    `json:"custodial_count"`
	OutputCount    int    `json:"output_count"`
	TotalOutput    string `json:"total_output"`

	Status string `json:"status"`
	Txid   string `json:"txid,omitempty"`
}

// AssembleInscriptionParams are the params for swap_assembleInscription.
type AssembleInscriptionParams struct {
	InscriptionTxid string `json:"inscription_txid"`
	InscriptionVout uint32 `json:"inscription_vout"`
	UserTxHex       string `json:"user_tx_hex"`
	Submit          bool   `json:"submit,omitempty"`
}

// AssembleRuneParams are the params for swap_assembleRune.
type AssembleRuneParams struct {
	RuneTxids []string `json:"rune_txids"`
	RuneVouts []uint32 `json:"rune_vouts"`
	UserTxHex string   `json:"user_tx_hex"`
	Submit    bool     `json:"submit,omitempty"`
}

// swapAssembleInscription assembles an inscription-for-runes swap: the
// custodial inscription input goes in front of the user's inputs.
func (s *Server) swapAssembleInscription(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AssembleInscriptionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	userTx, err := decodeTxHex(p.UserTxHex)
	if err != nil {
		return nil, err
	}

	tx, err := assembler.AssembleInscriptionForRunes(&assembler.InscriptionSwapParams{
		InscriptionTxid: p.InscriptionTxid,
		InscriptionVout: p.InscriptionVout,
		UserSwapTx:      userTx,
	}, s.authority)
	if err != nil {
		return nil, err
	}

	refs := []storage.CustodialRef{{Txid: p.InscriptionTxid, Vout: p.InscriptionVout}}
	return s.finishAssembly(ctx, storage.DirectionInscriptionRune, refs, tx, p.Submit)
}

// swapAssembleRune assembles a runes-for-inscription swap: the custodial rune
// inputs go after the user's inputs.
func (s *Server) swapAssembleRune(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AssembleRuneParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	userTx, err := decodeTxHex(p.UserTxHex)
	if err != nil {
		return nil, err
	}

	tx, err := assembler.AssembleRunesForInscription(&assembler.RuneSwapParams{
		RuneTxids:  p.RuneTxids,
		RuneVouts:  p.RuneVouts,
		UserSwapTx: userTx,
	}, s.authority)
	if err != nil {
		return nil, err
	}

	refs := make([]storage.CustodialRef, len(p.RuneTxids))
	for i := range p.RuneTxids {
		refs[i] = storage.CustodialRef{Txid: p.RuneTxids[i], Vout: p.RuneVouts[i]}
	}
	return s.finishAssembly(ctx, storage.DirectionRuneInscription, refs, tx, p.Submit)
}

// finishAssembly records an assembled transaction in the audit log,
// optionally submits it to the signing service, and builds the RPC result.
func (s *Server) finishAssembly(ctx context.Context, direction storage.Direction, refs []storage.CustodialRef, tx *assembler.TransactionToSign, submit bool) (*SwapResult, error) {
	decoded, err := assembler.DecodeTx(tx.TxBytes)
	if err != nil {
		return nil, err
	}

	var totalOutput int64
	for _, out := range decoded.TxOut {
		totalOutput += out.Value
	}

	designations := make([]DesignationInfo, len(tx.InputsToSign))
	stored := make([]storage.Designation, len(tx.InputsToSign))
	for i, in := range tx.InputsToSign {
		signerHex := hex.EncodeToString(in.Signer.SerializeCompressed())
		designations[i] = DesignationInfo{Index: in.Index, Signer: signerHex}
		stored[i] = storage.Designation{Index: in.Index, Signer: signerHex}
	}

	req := &storage.SwapRequest{
		ID:             uuid.New().String(),
		Direction:      direction,
		CustodialRefs:  refs,
		UserInputCount: len(decoded.TxIn) - len(refs),
		CustodialCount: len(refs),
		OutputCount:    len(decoded.TxOut),
		TxHex:          hex.EncodeToString(tx.TxBytes),
		Designations:   stored,
	}
	if err := s.store.CreateRequest(req); err != nil {
		return nil, err
	}

	s.log.Info("Swap assembled",
		"request_id", helpers.ShortID(req.ID),
		"direction", direction,
		"inputs", len(decoded.TxIn),
		"custodial", len(refs),
		"outputs", len(decoded.TxOut),
	)

	result := &SwapResult{
		RequestID:      req.ID,
		Direction:      string(direction),
		TxHex:          req.TxHex,
		InputsToSign:   designations,
		UserInputCount: req.UserInputCount,
		CustodialCount: req.CustodialCount,
		OutputCount:    req.OutputCount,
		TotalOutput:    btcutil.Amount(totalOutput).String(),
		Status:         string(storage.StatusAssembled),
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(EventSwapAssembled, result)
	}

	if submit {
		s.submitRequest(ctx, req, tx, result)
	}

	return result, nil
}

// submitRequest hands the assembled transaction to the signing service and
// records the outcome. Submission failure does not fail the RPC call; the
// caller gets the assembled transaction either way, with the status showing
// what happened.
func (s *Server) submitRequest(ctx context.Context, req *storage.SwapRequest, tx *assembler.TransactionToSign, result *SwapResult) {
	if s.signer == nil {
		s.log.Warn("Submission requested but no signing service configured", "request_id", req.ID)
		return
	}

	resp, err := s.signer.Submit(ctx, signer.NewSignRequest(req.ID, tx))
	if err != nil {
		s.log.Warn("Sign submission failed", "request_id", req.ID, "error", err)
		if uerr := s.store.UpdateRequestStatus(req.ID, storage.StatusFailed, err.Error()); uerr != nil {
			s.log.Error("Failed to record submission failure", "request_id", req.ID, "error", uerr)
		}
		result.Status = string(storage.StatusFailed)
		if s.wsHub != nil {
			s.wsHub.Broadcast(EventSwapFailed, map[string]string{"request_id": req.ID, "error": err.Error()})
		}
		return
	}

	if uerr := s.store.UpdateRequestStatus(req.ID, storage.StatusSubmitted, ""); uerr != nil {
		s.log.Error("Failed to record submission", "request_id", req.ID, "error", uerr)
	}
	result.Status = string(storage.StatusSubmitted)
	result.Txid = resp.Txid
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventSwapSubmitted, map[string]string{"request_id": req.ID, "txid": resp.Txid})
	}
}

// ExecuteParams are the params for program_execute.
type ExecuteParams struct {
	// InstructionHex is the borsh-encoded instruction, opcode byte first.
	InstructionHex string `json:"instruction_hex"`
}

// ExecuteResult is the result of program_execute.
type ExecuteResult struct {
	TxHex        string            `json:"tx_hex"`
	InputsToSign []DesignationInfo `json:"inputs_to_sign"`
}

// programExecute dispatches a raw borsh-encoded instruction through the
// program, exactly as an on-chain caller would. The configured authority is
// the single signer account.
func (s *Server) programExecute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ExecuteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	instruction, err := helpers.HexToBytes(p.InstructionHex)
	if err != nil {
		return nil, fmt.Errorf("%w: instruction is not valid hex", errInvalidParams)
	}

	tx, err := s.program.Process([]*btcec.PublicKey{s.authority}, instruction)
	if err != nil {
		return nil, err
	}

	designations := make([]DesignationInfo, len(tx.InputsToSign))
	for i, in := range tx.InputsToSign {
		designations[i] = DesignationInfo{
			Index:  in.Index,
			Signer: hex.EncodeToString(in.Signer.SerializeCompressed()),
		}
	}

	return &ExecuteResult{
		TxHex:        hex.EncodeToString(tx.TxBytes),
		InputsToSign: designations,
	}, nil
}

// GetParams are the params for swap_get.
type GetParams struct {
	RequestID string `json:"request_id"`
}

// swapGet returns one audit log entry.
func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p GetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if p.RequestID == "" {
		return nil, fmt.Errorf("%w: request_id is required", errInvalidParams)
	}

	return s.store.GetRequest(p.RequestID)
}

// ListParams are the params for swap_list.
type ListParams struct {
	Limit int `json:"limit,omitempty"`
}

// ListResult is the result of swap_list.
type ListResult struct {
	Requests []*storage.SwapRequest `json:"requests"`
	Total    int                    `json:"total"`
}

// swapList returns recent audit log entries, newest first.
func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
	}

	requests, err := s.store.ListRequests(p.Limit)
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountRequests()
	if err != nil {
		return nil, err
	}

	if requests == nil {
		requests = []*storage.SwapRequest{}
	}
	return &ListResult{Requests: requests, Total: total}, nil
}

// StatusResult is the result of service_status.
type StatusResult struct {
	Network         string `json:"network"`
	Authority       string `json:"authority"`
	SignerConnected bool   `json:"signer_configured"`
	Requests        int    `json:"requests"`
	WSClients       int    `json:"ws_clients"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// serviceStatus reports daemon health.
func (s *Server) serviceStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	total, err := s.store.CountRequests()
	if err != nil {
		return nil, err
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &StatusResult{
		Network:         s.network,
		Authority:       hex.EncodeToString(s.authority.SerializeCompressed()),
		SignerConnected: s.signer != nil,
		Requests:        total,
		WSClients:       wsClients,
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
	}, nil
}

// decodeTxHex decodes the user's transaction hex into raw bytes. The actual
// transaction structure is validated by the assembler.
func decodeTxHex(txHex string) ([]byte, error) {
	if txHex == "" {
		return nil, fmt.Errorf("%w: user_tx_hex is required", errInvalidParams)
	}
	raw, err := helpers.HexToBytes(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: user_tx_hex is not valid hex", errInvalidParams)
	}
	return raw, nil
}
