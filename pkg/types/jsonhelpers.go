package types

import (
	"encoding/json"
	"fmt"
)

// unmarshalJSONArrayOfStrings decodes a 3-element JSON array whose entries
// may be quoted strings or bare numbers (Coinbase's level-3 snapshot rows
// mix both across price/size and order-id) into their string forms.
func unmarshalJSONArrayOfStrings(data []byte, out *[3]string) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode snapshot level: %w", err)
	}
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out[i] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("decode snapshot level field %d: %w", i, err)
		}
		out[i] = n.String()
	}
	return nil
}
