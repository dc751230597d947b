// Package storage - Swap request persistence.
// This file provides CRUD operations for the assembly audit log.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request persistence errors
var (
	ErrRequestNotFound = errors.New("swap request not found")
	ErrRequestExists   = errors.New("swap request already exists")
)

// Direction identifies which assembler produced a request.
type Direction string

const (
	DirectionInscriptionRune Direction = "inscription_rune"
	DirectionRuneInscription Direction = "rune_inscription"
)

// RequestStatus tracks what happened to an assembled transaction.
type RequestStatus string

const (
	StatusAssembled RequestStatus = "assembled"
	StatusSubmitted RequestStatus = "submitted"
	StatusFailed    RequestStatus = "failed"
)

// CustodialRef is one custodial UTXO reference as stored in the audit log.
type CustodialRef struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// Designation is one stored signer designation.
type Designation struct {
	Index  uint32 `json:"index"`
	Signer string `json:"signer"` // hex-encoded compressed pubkey
}

// SwapRequest is a persisted assembly request.
type SwapRequest struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`

	CustodialRefs []CustodialRef `json:"custodial_refs"`

	UserInputCount int `json:"user_input_count"`
	CustodialCount int `json:"custodial_count"`
	OutputCount    int `json:"output_count"`

	TxHex        string        `json:"tx_hex"`
	Designations []Designation `json:"designations"`

	Status        RequestStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest inserts a new swap request.
func (s *Storage) CreateRequest(req *SwapRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = StatusAssembled
	}

	refs, err := json.Marshal(req.CustodialRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal custodial refs: %w", err)
	}
	designations, err := json.Marshal(req.Designations)
	if err != nil {
		return fmt.Errorf("failed to marshal designations: %w", err)
	}

	query := `
		INSERT INTO swap_requests (
			id, direction, custodial_refs,
			user_input_count, custodial_count, output_count,
			tx_hex, designations, status, failure_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		req.ID, string(req.Direction), string(refs),
		req.UserInputCount, req.CustodialCount, req.OutputCount,
		req.TxHex, string(designations), string(req.Status), req.FailureReason,
		req.CreatedAt.Unix(), req.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRequestExists, req.ID)
		}
		return fmt.Errorf("failed to create swap request: %w", err)
	}

	return nil
}

// GetRequest returns one swap request by id.
func (s *Storage) GetRequest(id string) (*SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, direction, custodial_refs,
			user_input_count, custodial_count, output_count,
			tx_hex, designations, status, COALESCE(failure_reason, ''),
			created_at, updated_at
		FROM swap_requests WHERE id = ?
	`

	req, err := scanRequest(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	return req, nil
}

// ListRequests returns the most recent requests, newest first.
func (s *Storage) ListRequests(limit int) ([]*SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, direction, custodial_refs,
			user_input_count, custodial_count, output_count,
			tx_hex, designations, status, COALESCE(failure_reason, ''),
			created_at, updated_at
		FROM swap_requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list swap requests: %w", err)
	}
	defer rows.Close()

	var requests []*SwapRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// UpdateRequestStatus records the outcome of submitting a request to the
// signing service.
func (s *Storage) UpdateRequestStatus(id string, status RequestStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE swap_requests SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), failureReason, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update swap request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return nil
}

// CountRequests returns the total number of stored requests.
func (s *Storage) CountRequests() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM swap_requests`).Scan(&count)
	return count, err
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRequest.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*SwapRequest, error) {
	var (
		req          SwapRequest
		direction    string
		refs         string
		designations string
		status       string
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&req.ID, &direction, &refs,
		&req.UserInputCount, &req.CustodialCount, &req.OutputCount,
		&req.TxHex, &designations, &status, &req.FailureReason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Direction = Direction(direction)
	req.Status = RequestStatus(status)
	req.CreatedAt = time.Unix(createdAt, 0)
	req.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(refs), &req.CustodialRefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custodial refs: %w", err)
	}
	if err := json.Unmarshal([]byte(designations), &req.Designations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal designations: %w", err)
	}

	return &req, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}
