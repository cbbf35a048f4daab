// Package version persists the metadata of the installed artifact and
// compares version identifiers.
package version

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Info describes the installed artifact version.
// Fields the server sends beyond version and description are kept in Extra
// and written back verbatim.
type Info struct {
	Version     string
	Description string
	Extra       map[string]json.RawMessage
}

// IsZero reports whether the record carries no data at all.
func (i Info) IsZero() bool {
	return i.Version == "" && i.Description == "" && len(i.Extra) == 0
}

// MarshalJSON writes the known fields alongside the opaque extras.
func (i Info) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.Extra)+2)
	maps.Copy(out, i.Extra)

	if _, kept := i.Extra["version"]; !kept || i.Version != "" {
		v, err := json.Marshal(i.Version)
		if err != nil {
			return nil, err
		}
		out["version"] = v
	}

	if i.Description != "" {
		d, err := json.Marshal(i.Description)
		if err != nil {
			return nil, err
		}
		out["description"] = d
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads a record, tolerating non-string version values
// (some servers send numbers). A version or description that is not a
// string or number stays in Extra untouched.
func (i *Info) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*i = Info{}
	if v, ok := scalarString(raw["version"]); ok {
		i.Version = v
		delete(raw, "version")
	}
	if d, ok := scalarString(raw["description"]); ok {
		i.Description = d
		delete(raw, "description")
	}

	if len(raw) > 0 {
		i.Extra = raw
	}
	return nil
}

// scalarString renders a JSON string or number as a string. Objects,
// arrays, booleans and null are not scalars here.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
