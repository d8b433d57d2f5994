package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

const maxListLimit = 100

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// clampLimit keeps explicit page sizes within maxListLimit. Zero means unbounded.
func clampLimit(limit int) int {
	switch {
	case limit < 0:
		return 0
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func encodeJSON(value map[string]any) (datatypes.JSON, error) {
	if len(value) == 0 {
		return datatypes.JSON("{}"), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return datatypes.JSON(data), nil
}

func rawJSON(data datatypes.JSON) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(data)
}
