package redisq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"flowq/internal/domain"
)

func formatNow() string {
	return strconv.FormatFloat(float64(time.Now().UnixMicro())/1e6, 'f', 6, 64)
}

func checkpointFromValues(values map[string]any) (domain.Checkpoint, error) {
	cp := domain.Checkpoint{
		ScopeID: asString(values["scope_id"]),
		Step:    asString(values["step"]),
	}
	if cp.ScopeID == "" {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint record has no scope_id")
	}
	if raw := asString(values["data"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.Data); err != nil {
			return domain.Checkpoint{}, fmt.Errorf("decode checkpoint data for %s: %w", cp.ScopeID, err)
		}
	}
	if f, err := strconv.ParseFloat(asString(values["timestamp"]), 64); err == nil && f > 0 {
		cp.Timestamp = time.UnixMicro(int64(f * 1e6))
	}
	return cp, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
