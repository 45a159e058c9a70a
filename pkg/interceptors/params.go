package interceptors

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/polisai/polis-chain/pkg/intercept"
)

// Parameter decoding for configuration-supplied tags. Numbers given for
// durations are milliseconds.

func durationParam(t intercept.Tag, key string, def time.Duration) (time.Duration, error) {
	v, ok := t.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, paramErr(t, key, err)
		}
		return d, nil
	case int:
		return time.Duration(x) * time.Millisecond, nil
	case int64:
		return time.Duration(x) * time.Millisecond, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	default:
		return 0, paramErr(t, key, fmt.Errorf("unsupported type %T", v))
	}
}

func intParam(t intercept.Tag, key string, def int) (int, error) {
	v, ok := t.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, paramErr(t, key, fmt.Errorf("%v is not an integer", x))
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, paramErr(t, key, err)
		}
		return n, nil
	default:
		return 0, paramErr(t, key, fmt.Errorf("unsupported type %T", v))
	}
}

func floatParam(t intercept.Tag, key string, def float64) (float64, error) {
	v, ok := t.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, paramErr(t, key, err)
		}
		return f, nil
	default:
		return 0, paramErr(t, key, fmt.Errorf("unsupported type %T", v))
	}
}

func boolParam(t intercept.Tag, key string, def bool) (bool, error) {
	v, ok := t.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, paramErr(t, key, err)
		}
		return b, nil
	default:
		return false, paramErr(t, key, fmt.Errorf("unsupported type %T", v))
	}
}

func stringParam(t intercept.Tag, key, def string) (string, error) {
	v, ok := t.Param(key)
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", paramErr(t, key, fmt.Errorf("unsupported type %T", v))
	}
	return s, nil
}

func paramErr(t intercept.Tag, key string, err error) error {
	return fmt.Errorf("%s.%s: %w", t.Name, key, err)
}
