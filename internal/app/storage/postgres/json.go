package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/reportengine/disbursement/internal/app/domain/schedule"
)

// jsonMap stores a map[string]any in a JSONB column. A nil map round-trips
// as SQL NULL.
type jsonMap map[string]any

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *jsonMap) Scan(src any) error {
	return scanJSON(src, m)
}

// jsonStrings stores a string slice in a JSONB column.
type jsonStrings []string

func (s jsonStrings) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *jsonStrings) Scan(src any) error {
	return scanJSON(src, s)
}

// jsonVerifications stores the per-condition verification map.
type jsonVerifications map[string]schedule.Verification

func (v jsonVerifications) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (v *jsonVerifications) Scan(src any) error {
	return scanJSON(src, v)
}

func scanJSON(src, dst any) error {
	switch data := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON field", src)
	}
}
