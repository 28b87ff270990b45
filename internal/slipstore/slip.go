package slipstore

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Slip is the decrypted trade slip. On the wire a slip is either a whole
// JSON record under trade:<id> or a set of legacy per-field keys
// (trade:<id>:data, :status, :quantity); both shapes are reconciled here so
// callers only ever see this struct.
type Slip struct {
	TradeID   string    `json:"-"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side,omitempty"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Mode      string    `json:"mode,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Legacy per-field key suffixes.
const (
	fieldData     = "data"
	fieldStatus   = "status"
	fieldQuantity = "quantity"
)

// errIncompleteSlip marks a decrypted record that parsed as JSON but lacks
// the fields a slip cannot exist without. Such records are treated as
// unreadable, never guessed at.
var errIncompleteSlip = errors.New("slip record missing required fields")

// slipFromRecord decodes a whole-record payload. A valid record carries at
// least symbol, price and amount/quantity; anything less is unreadable.
// Older writers used "quantity" where current ones use "amount"; both are
// honored, with "amount" winning when present.
func slipFromRecord(tradeID string, payload []byte) (*Slip, error) {
	s, raw, err := decodeSlipRecord(tradeID, payload)
	if err != nil {
		return nil, err
	}
	if _, ok := raw["symbol"]; !ok {
		return nil, errIncompleteSlip
	}
	if _, ok := raw["price"]; !ok {
		return nil, errIncompleteSlip
	}
	_, hasAmount := raw["amount"]
	_, hasQuantity := raw["quantity"]
	if !hasAmount && !hasQuantity {
		return nil, errIncompleteSlip
	}
	return s, nil
}

// decodeSlipRecord parses a record without the required-field check; the
// fragment path uses it directly since legacy data fragments were often
// partial, with the missing fields held in sibling keys.
func decodeSlipRecord(tradeID string, payload []byte) (*Slip, map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, nil, err
	}

	var s Slip
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, nil, err
	}
	s.TradeID = tradeID

	if s.Amount == 0 {
		if qty, ok := raw["quantity"]; ok {
			var q float64
			if err := json.Unmarshal(qty, &q); err == nil {
				s.Amount = q
			}
		}
	}
	return &s, raw, nil
}

// slipFromFragments rebuilds a slip from decrypted legacy field values.
// The data fragment carries the base record; status and quantity fragments
// override it, mirroring how the fields were written independently.
func slipFromFragments(tradeID string, fields map[string]string) (*Slip, error) {
	s := &Slip{TradeID: tradeID}

	if data, ok := fields[fieldData]; ok {
		parsed, _, err := decodeSlipRecord(tradeID, []byte(data))
		if err == nil {
			s = parsed
		}
	}
	if status, ok := fields[fieldStatus]; ok {
		s.Status = decodeStringFragment(status)
	}
	if qty, ok := fields[fieldQuantity]; ok {
		if f, ok := decodeFloatFragment(qty); ok {
			s.Amount = f
		}
	}
	if s.Symbol == "" && s.Amount == 0 {
		return nil, errNotFound
	}
	return s, nil
}

// Fragment values were written by several generations of tooling: JSON
// strings, bare floats, or raw text. Decode the permissive way.
func decodeStringFragment(v string) string {
	var s string
	if err := json.Unmarshal([]byte(v), &s); err == nil {
		return s
	}
	return v
}

func decodeFloatFragment(v string) (float64, bool) {
	var f float64
	if err := json.Unmarshal([]byte(v), &f); err == nil {
		return f, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, true
	}
	return 0, false
}
