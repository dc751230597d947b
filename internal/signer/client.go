// Package signer hands assembled transactions to the external
// signing/broadcast service. The service is trusted to sign exactly the
// designated input indices and to broadcast or reject the whole transaction
// atomically; this client only delivers the request object.
package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chimera-swap/chimerad/internal/assembler"
	"github.com/chimera-swap/chimerad/pkg/logging"
)

// ErrRejected is returned when the signing service refuses the request.
var ErrRejected = errors.New("signing service rejected transaction")

// InputDesignation is one (index, signer) pair in the submission payload.
type InputDesignation struct {
	Index  uint32 `json:"index"`
	Signer string `json:"signer"` // hex-encoded compressed pubkey
}

// SignRequest is the single request object handed to the signing service.
type SignRequest struct {
	RequestID    string             `json:"request_id"`
	TxHex        string             `json:"tx_hex"`
	InputsToSign []InputDesignation `json:"inputs_to_sign"`
}

// SignResponse is the signing service's reply.
type SignResponse struct {
	Accepted bool   `json:"accepted"`
	Txid     string `json:"txid,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client submits sign requests to the signing service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient creates a signing service client. An empty endpoint returns nil;
// callers treat a nil client as "submission disabled".
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logging.GetDefault().Component("signer"),
	}
}

// NewSignRequest converts an assembled transaction into the submission
// payload, preserving designation order.
func NewSignRequest(requestID string, tx *assembler.TransactionToSign) *SignRequest {
	inputs := make([]InputDesignation, len(tx.InputsToSign))
	for i, in := range tx.InputsToSign {
		inputs[i] = InputDesignation{
			Index:  in.Index,
			Signer: hex.EncodeToString(in.Signer.SerializeCompressed()),
		}
	}
	return &SignRequest{
		RequestID:    requestID,
		TxHex:        hex.EncodeToString(tx.TxBytes),
		InputsToSign: inputs,
	}
}

// Submit delivers one sign request. There is no retry: assembly failures are
// deterministic and transport failures are the caller's to surface.
func (c *Client) Submit(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var signResp SignResponse
	if err := json.NewDecoder(resp.Body).Decode(&signResp); err != nil {
		return nil, fmt.Errorf("failed to decode signing service response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !signResp.Accepted {
		reason := signResp.Error
		if reason == "" {
			reason = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	c.log.Debug("Sign request accepted", "request_id", req.RequestID, "txid", signResp.Txid)
	return &signResp, nil
}
