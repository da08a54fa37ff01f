package highlights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexInt accepts a JSON number or a numeric string. Integral floats such as
// "10.0" are allowed; 10.7 is rejected.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw, err := flexRaw(data)
	if err != nil {
		return err
	}
	if raw == "" {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid integer %q", raw)
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("%q is not a whole number", raw)
	}
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return fmt.Errorf("integer %q out of range", raw)
	}
	*f = FlexInt(int64(v))
	return nil
}

// FlexFloat accepts a JSON number or a numeric string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	raw, err := flexRaw(data)
	if err != nil {
		return err
	}
	if raw == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid number %q", raw)
	}
	*f = FlexFloat(v)
	return nil
}

// FlexID accepts a task id as a JSON number or a string of digits.
type FlexID int64

func (f *FlexID) UnmarshalJSON(data []byte) error {
	raw, err := flexRaw(data)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", raw)
	}
	*f = FlexID(v)
	return nil
}

func flexRaw(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	return string(data), nil
}
