package model

import (
	"bytes"
	"encoding/json"
	"sort"
)

// RawMap accepts either a JSON array of questions or an object whose values
// are questions. Object entries are ordered by key so decoding is stable.
type RawMap struct {
	Items []RawQuestion
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *RawMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		m.Items = nil
		return nil
	}

	if data[0] == '[' {
		return json.Unmarshal(data, &m.Items)
	}

	var obj map[string]RawQuestion
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.Items = make([]RawQuestion, 0, len(keys))
	for _, k := range keys {
		m.Items = append(m.Items, obj[k])
	}
	return nil
}
