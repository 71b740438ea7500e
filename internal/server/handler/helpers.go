// Package handler contains the HTTP handlers. Each handler declares the
// service interface it needs locally, so the package never depends on the
// concrete service implementations.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/fixedpoint"
)

// actorHeader carries the caller's address. The API key authenticates the
// operator; the actor header says on whose behalf the call is made.
const actorHeader = "X-Actor"

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service error onto an HTTP status using the domain
// sentinels and sends it as a JSON error body.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps domain sentinels to HTTP status codes. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrBelowMinimum),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNoStake):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrNotYetExpired),
		errors.Is(err, domain.ErrMarketExpired),
		errors.Is(err, domain.ErrDuplicateStake),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrFeedInactive),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotSettled),
		errors.Is(err, domain.ErrLostPrediction),
		errors.Is(err, domain.ErrNoValidData),
		errors.Is(err, domain.ErrAllOutliers),
		errors.Is(err, domain.ErrZeroWeight):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// marketID extracts the {id} path parameter as a market id.
func marketID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid market id %q: %w", raw, domain.ErrInvalidInput)
	}
	return id, nil
}

// feedID extracts the {id} path parameter as a feed id (0x-prefixed hash).
func feedID(r *http.Request) (domain.FeedID, error) {
	raw := r.PathValue("id")
	if !hashRx(raw) {
		return domain.FeedID{}, fmt.Errorf("invalid feed id %q: %w", raw, domain.ErrInvalidInput)
	}
	return common.HexToHash(raw), nil
}

func hashRx(s string) bool {
	if len(s) != 2+2*common.HashLength || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// parseAddress validates and decodes a hex address.
func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", raw, domain.ErrInvalidInput)
	}
	return common.HexToAddress(raw), nil
}

// actor reads the caller's address from the X-Actor header.
func actor(r *http.Request) (common.Address, error) {
	raw := r.Header.Get(actorHeader)
	if raw == "" {
		return common.Address{}, fmt.Errorf("missing %s header: %w", actorHeader, domain.ErrInvalidInput)
	}
	return parseAddress(raw)
}

// parseAmount decodes a positive decimal amount into WAD.
func parseAmount(raw string) (*big.Int, error) {
	amount, err := fixedpoint.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, domain.ErrInvalidInput)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive: %w", raw, domain.ErrInvalidInput)
	}
	return amount, nil
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
	}
	return nil
}
