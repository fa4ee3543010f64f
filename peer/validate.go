// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// Validator decides whether a received payload is acceptable. The
// returned error's text becomes the reason in the "-ERR" reply, so it
// must fit on one line.
type Validator func(payload string) error

// ValidateJSON accepts payloads that are JSON objects containing every
// named field. Comments and trailing commas are tolerated.
func ValidateJSON(requiredFields ...string) Validator {
	return func(payload string) error {
		var object map[string]any
		if err := json.Unmarshal(jsonc.ToJSON([]byte(payload)), &object); err != nil || object == nil {
			return fmt.Errorf("invalid JSON object")
		}
		var missing []string
		for _, field := range requiredFields {
			if _, ok := object[field]; !ok {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing field %s", strings.Join(missing, ", "))
		}
		return nil
	}
}
