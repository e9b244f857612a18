package recordstore

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// Status is the lifecycle state of a record as written on the wire.
type Status string

const (
	StatusAvailable Status = "N/A"
	StatusUsed      Status = "Used"
	StatusDone      Status = "Done"
)

// Rank orders statuses along the only permitted direction of travel.
// Unknown statuses rank below Available.
func (s Status) Rank() int {
	switch s {
	case StatusAvailable:
		return 1
	case StatusUsed:
		return 2
	case StatusDone:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether a record in this status must never be handed out again.
func (s Status) Terminal() bool {
	return s.Rank() >= StatusUsed.Rank()
}

// FlexString decodes from a JSON string or number. The store is loosely typed
// and serves birth dates and card expiry values as either.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexInt decodes from a JSON number or a numeric string. Anything else,
// including non-finite values and values outside the int32 range, decodes as zero.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil || math.IsNaN(n) || n > math.MaxInt32 || n < math.MinInt32 {
		*f = 0
		return nil
	}
	*f = FlexInt(int(n))
	return nil
}

// MatchList decodes from a JSON array of numbers or strings, or from a
// comma separated string.
type MatchList []string

func (m *MatchList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = nil
		return nil
	}
	if b[0] == '[' {
		var items []FlexString
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("matches: %w", err)
		}
		out := make(MatchList, 0, len(items))
		for _, it := range items {
			out = append(out, strings.TrimSpace(string(it)))
		}
		*m = out
		return nil
	}
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("matches: %w", err)
	}
	*m = ParseMatchList(string(s))
	return nil
}

// ParseMatchList splits a comma separated match list, dropping empty entries.
func ParseMatchList(s string) MatchList {
	var out MatchList
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Record is one row of the external store.
type Record struct {
	Email    string `json:"email"`
	Status   Status `json:"status"`
	Password string `json:"password,omitempty"`

	Name    string     `json:"name,omitempty"`
	Gender  FlexString `json:"gender,omitempty"`
	Day     FlexString `json:"day,omitempty"`
	Month   FlexString `json:"month,omitempty"`
	Year    FlexString `json:"year,omitempty"`
	Country string     `json:"country,omitempty"`

	CardNumber FlexString `json:"card_number,omitempty"`
	CardMonth  FlexString `json:"card_month,omitempty"`
	CardYear   FlexString `json:"card_year,omitempty"`
	CVV        FlexString `json:"cvv,omitempty"`
	Holder     string     `json:"holder,omitempty"`

	Matches  MatchList `json:"matches,omitempty"`
	Category FlexInt   `json:"category,omitempty"`
	Quantity FlexInt   `json:"quantity,omitempty"`

	Address     string     `json:"address,omitempty"`
	City        string     `json:"city,omitempty"`
	Postcode    FlexString `json:"postcode,omitempty"`
	State       string     `json:"state,omitempty"`
	PhoneNumber FlexString `json:"phone_number,omitempty"`

	// Extra keeps fields this client does not model.
	Extra map[string]stdjson.RawMessage `json:"-"`
}

var knownFields = map[string]struct{}{
	"email": {}, "status": {}, "password": {}, "name": {}, "gender": {}, "day": {}, "month": {},
	"year": {}, "country": {}, "card_number": {}, "card_month": {}, "card_year": {}, "cvv": {},
	"holder": {}, "matches": {}, "category": {}, "quantity": {}, "address": {}, "city": {},
	"postcode": {}, "state": {}, "phone_number": {},
}

func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var all map[string]stdjson.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k := range all {
		if _, ok := knownFields[k]; ok {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*r = Record(p)
	return nil
}

// CardHolder is the name to print on the card, preferring the record's full name.
func (r Record) CardHolder() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.Holder
}

// decodeRecord interprets a store response body. An array yields its first
// element. An empty body, null, an empty array or a record without an email
// are all absence.
func decodeRecord(body []byte) (Record, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Record{}, false, nil
	}

	if body[0] == '[' {
		var list []stdjson.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return Record{}, false, err
		}
		if len(list) == 0 {
			return Record{}, false, nil
		}
		return decodeRecord(list[0])
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, false, err
	}
	if rec.Email == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}
