package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chimera-swap/chimerad/internal/assembler"
	"github.com/chimera-swap/chimerad/internal/program"
	"github.com/chimera-swap/chimerad/internal/signer"
	"github.com/chimera-swap/chimerad/internal/storage"
)

const testTxid = "1111111111111111111111111111111111111111111111111111111111111111"

func testAuthority(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x2a}, 32))
	return priv.PubKey()
}

func newTestServer(t *testing.T, sc *signer.Client) *Server {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "chimera-rpc-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewServer(store, program.New(), sc, testAuthority(t), "testnet")
}

// call posts a JSON-RPC request directly to the handler and decodes the response.
func call(t *testing.T, s *Server, method string, params interface{}) *Response {
	t.Helper()

	req := Request{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("failed to marshal params: %v", err)
		}
		req.Params = data
	}

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, httpReq)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &resp
}

func decodeResult(t *testing.T, resp *Response, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to remarshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

// userTxHex builds a serialized user transaction with the given input and
// output counts.
func userTxHex(t *testing.T, numInputs, numOutputs int) string {
	t.Helper()

	tx := wire.NewMsgTx(2)
	hash, err := chainhash.NewHashFromStr(strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("failed to build txid: %v", err)
	}
	for i := 0; i < numInputs; i++ {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, uint32(i)), nil, nil))
	}
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(wire.NewTxOut(int64(1000*(i+1)), []byte{0x51}))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("failed to serialize tx: %v", err)
	}
	return hex.EncodeToString(buf.Bytes())
}

func TestAssembleInscription(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "swap_assembleInscription", AssembleInscriptionParams{
		InscriptionTxid: testTxid,
		InscriptionVout: 0,
		UserTxHex:       userTxHex(t, 2, 1),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result SwapResult
	decodeResult(t, resp, &result)

	if result.RequestID == "" {
		t.Error("request id is empty")
	}
	if result.Direction != string(storage.DirectionInscriptionRune) {
		t.Errorf("direction = %s", result.Direction)
	}
	if result.UserInputCount != 2 || result.CustodialCount != 1 || result.OutputCount != 1 {
		t.Errorf("counts = %d user, %d custodial, %d outputs",
			result.UserInputCount, result.CustodialCount, result.OutputCount)
	}
	// Custodial input goes first for inscription->rune swaps
	if len(result.InputsToSign) != 1 || result.InputsToSign[0].Index != 0 {
		t.Errorf("designations = %+v, want single designation at index 0", result.InputsToSign)
	}
	if result.Status != string(storage.StatusAssembled) {
		t.Errorf("status = %s", result.Status)
	}
	if result.TotalOutput == "" {
		t.Error("total output is empty")
	}

	// Audit log entry persisted
	stored, err := s.store.GetRequest(result.RequestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if stored.TxHex != result.TxHex {
		t.Error("stored tx hex does not match result")
	}
}

func TestAssembleRune(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "swap_assembleRune", AssembleRuneParams{
		RuneTxids: []string{testTxid, strings.Repeat("2", 64)},
		RuneVouts: []uint32{0, 1},
		UserTxHex: userTxHex(t, 1, 2),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result SwapResult
	decodeResult(t, resp, &result)

	if result.UserInputCount != 1 || result.CustodialCount != 2 {
		t.Errorf("counts = %d user, %d custodial", result.UserInputCount, result.CustodialCount)
	}
	// Custodial inputs go last for rune->inscription swaps
	if len(result.InputsToSign) != 2 {
		t.Fatalf("got %d designations, want 2", len(result.InputsToSign))
	}
	if result.InputsToSign[0].Index != 1 || result.InputsToSign[1].Index != 2 {
		t.Errorf("designation indices = %d, %d, want 1, 2",
			result.InputsToSign[0].Index, result.InputsToSign[1].Index)
	}
}

func TestAssembleErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		params interface{}
	}{
		{
			name:   "missing user tx",
			method: "swap_assembleInscription",
			params: AssembleInscriptionParams{InscriptionTxid: testTxid},
		},
		{
			name:   "bad tx hex",
			method: "swap_assembleInscription",
			params: AssembleInscriptionParams{InscriptionTxid: testTxid, UserTxHex: "zz"},
		},
		{
			name:   "bad inscription txid",
			method: "swap_assembleInscription",
			params: AssembleInscriptionParams{InscriptionTxid: "abc", UserTxHex: userTxHex(t, 1, 1)},
		},
		{
			name:   "rune count mismatch",
			method: "swap_assembleRune",
			params: AssembleRuneParams{
				RuneTxids: []string{testTxid},
				RuneVouts: []uint32{0, 1},
				UserTxHex: userTxHex(t, 1, 1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, tt.method, tt.params)
			if resp.Error == nil {
				t.Fatal("expected error response")
			}
			if resp.Error.Code != InvalidParams {
				t.Errorf("error code = %d, want %d", resp.Error.Code, InvalidParams)
			}
		})
	}
}

func TestProgramExecute(t *testing.T) {
	s := newTestServer(t, nil)

	raw, err := hex.DecodeString(userTxHex(t, 1, 1))
	if err != nil {
		t.Fatalf("failed to decode tx hex: %v", err)
	}
	instruction, err := program.EncodeInscriptionInstruction(&assembler.InscriptionSwapParams{
		InscriptionTxid: testTxid,
		InscriptionVout: 0,
		UserSwapTx:      raw,
	})
	if err != nil {
		t.Fatalf("failed to encode instruction: %v", err)
	}

	resp := call(t, s, "program_execute", ExecuteParams{
		InstructionHex: hex.EncodeToString(instruction),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result ExecuteResult
	decodeResult(t, resp, &result)
	if len(result.InputsToSign) != 1 || result.InputsToSign[0].Index != 0 {
		t.Errorf("designations = %+v", result.InputsToSign)
	}
}

func TestProgramExecuteUnknownOpcode(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "program_execute", ExecuteParams{InstructionHex: "ff"})
	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != InvalidParams {
		t.Errorf("error code = %d, want %d", resp.Error.Code, InvalidParams)
	}
}

func TestSwapGetAndList(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "swap_assembleInscription", AssembleInscriptionParams{
		InscriptionTxid: testTxid,
		InscriptionVout: 0,
		UserTxHex:       userTxHex(t, 1, 1),
	})
	if resp.Error != nil {
		t.Fatalf("assembly failed: %+v", resp.Error)
	}
	var assembled SwapResult
	decodeResult(t, resp, &assembled)

	getResp := call(t, s, "swap_get", GetParams{RequestID: assembled.RequestID})
	if getResp.Error != nil {
		t.Fatalf("swap_get failed: %+v", getResp.Error)
	}

	missingResp := call(t, s, "swap_get", GetParams{RequestID: "missing"})
	if missingResp.Error == nil {
		t.Fatal("expected error for missing request")
	}

	listResp := call(t, s, "swap_list", ListParams{Limit: 10})
	if listResp.Error != nil {
		t.Fatalf("swap_list failed: %+v", listResp.Error)
	}
	var list ListResult
	decodeResult(t, listResp, &list)
	if list.Total != 1 || len(list.Requests) != 1 {
		t.Errorf("list = %d requests, total %d, want 1", len(list.Requests), list.Total)
	}
}

func TestServiceStatus(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "service_status", nil)
	if resp.Error != nil {
		t.Fatalf("service_status failed: %+v", resp.Error)
	}

	var status StatusResult
	decodeResult(t, resp, &status)
	if status.Network != "testnet" {
		t.Errorf("network = %s", status.Network)
	}
	if len(status.Authority) != 66 {
		t.Errorf("authority hex length = %d, want 66", len(status.Authority))
	}
	if status.SignerConnected {
		t.Error("signer reported configured without a client")
	}
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	resp := call(t, s, "swap_unknown", nil)
	if resp.Error == nil || resp.Error.Code != MethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, MethodNotFound)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	s := newTestServer(t, nil)

	body := []byte(`{"jsonrpc":"1.0","method":"service_status","id":1}`)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, httpReq)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("error = %+v, want code %d", resp.Error, InvalidRequest)
	}
}

func TestAssembleWithSubmission(t *testing.T) {
	signService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(signer.SignResponse{Accepted: true, Txid: "cafebabe"})
	}))
	defer signService.Close()

	s := newTestServer(t, signer.NewClient(signService.URL, 0))

	resp := call(t, s, "swap_assembleInscription", AssembleInscriptionParams{
		InscriptionTxid: testTxid,
		InscriptionVout: 0,
		UserTxHex:       userTxHex(t, 1, 1),
		Submit:          true,
	})
	if resp.Error != nil {
		t.Fatalf("assembly failed: %+v", resp.Error)
	}

	var result SwapResult
	decodeResult(t, resp, &result)
	if result.Status != string(storage.StatusSubmitted) {
		t.Errorf("status = %s, want %s", result.Status, storage.StatusSubmitted)
	}
	if result.Txid != "cafebabe" {
		t.Errorf("txid = %s", result.Txid)
	}

	stored, err := s.store.GetRequest(result.RequestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if stored.Status != storage.StatusSubmitted {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestAssembleWithFailedSubmission(t *testing.T) {
	signService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(signer.SignResponse{Accepted: false, Error: "unknown custodial utxo"})
	}))
	defer signService.Close()

	s := newTestServer(t, signer.NewClient(signService.URL, 0))

	resp := call(t, s, "swap_assembleInscription", AssembleInscriptionParams{
		InscriptionTxid: testTxid,
		InscriptionVout: 0,
		UserTxHex:       userTxHex(t, 1, 1),
		Submit:          true,
	})
	if resp.Error != nil {
		t.Fatalf("assembly failed: %+v", resp.Error)
	}

	var result SwapResult
	decodeResult(t, resp, &result)
	if result.Status != string(storage.StatusFailed) {
		t.Errorf("status = %s, want %s", result.Status, storage.StatusFailed)
	}

	stored, err := s.store.GetRequest(result.RequestID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if stored.Status != storage.StatusFailed {
		t.Errorf("stored status = %s", stored.Status)
	}
	if stored.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
}
