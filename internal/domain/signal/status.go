package signal

import (
	"encoding/json"
	"strings"
)

// ToStatus converts a raw payload value into a Status. Every conversion of a
// raw value goes through here.
//
//	bool:    true -> pass, false -> fail
//	string:  yes/true/pass -> pass, no/false/fail -> fail,
//	         warning/caution -> caution, other non-empty -> pass
//	number:  nonzero -> pass, zero -> fail
//	nil/"":  inactive
func ToStatus(v interface{}) Status {
	switch t := v.(type) {
	case nil:
		return StatusInactive
	case Status:
		if t.Valid() {
			return t
		}
		return ToStatus(string(t))
	case bool:
		if t {
			return StatusPass
		}
		return StatusFail
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "":
			return StatusInactive
		case "yes", "true", "pass":
			return StatusPass
		case "no", "false", "fail":
			return StatusFail
		case "warning", "caution":
			return StatusCaution
		}
		return StatusPass
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return StatusInactive
		}
		return numberStatus(f)
	case float64:
		return numberStatus(t)
	case float32:
		return numberStatus(float64(t))
	case int:
		return numberStatus(float64(t))
	case int64:
		return numberStatus(float64(t))
	}
	return StatusInactive
}

func numberStatus(f float64) Status {
	if f != 0 {
		return StatusPass
	}
	return StatusFail
}

// Invert flips pass and fail for inputs where a truthy value is bad news,
// such as a compromise flag. Caution and inactive are unchanged.
func Invert(s Status) Status {
	switch s {
	case StatusPass:
		return StatusFail
	case StatusFail:
		return StatusPass
	}
	return s
}

// Flag maps a present-and-true finding to caution and a negative finding to
// pass. Used for findings that warrant reviewer attention rather than a
// hard failure.
func Flag(s Status) Status {
	switch s {
	case StatusPass:
		return StatusCaution
	case StatusFail:
		return StatusPass
	}
	return s
}
