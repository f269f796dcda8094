package remote

import (
	"bytes"
	"encoding/json"
)

// flexID decodes an identifier the service may send either as a JSON string
// or as a bare number. Numbers are kept digit-for-digit; decoding them as
// float64 would corrupt snowflake ids above 2^53.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func flexIDs(in []flexID) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id != "" {
			out = append(out, string(id))
		}
	}
	return out
}

// optionalID maps the empty id to nil.
func optionalID(id flexID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}
