package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusCode is the flight status agreed by oracle consensus.
type StatusCode int

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

var statusNames = map[StatusCode]string{
	StatusUnknown:       "unknown",
	StatusOnTime:        "on-time",
	StatusLateAirline:   "late-airline",
	StatusLateWeather:   "late-weather",
	StatusLateTechnical: "late-technical",
	StatusLateOther:     "late-other",
}

// StatusCodes lists every reportable status in ascending order.
func StatusCodes() []StatusCode {
	return []StatusCode{StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther}
}

func (s StatusCode) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// ParseStatusCode accepts either the name ("late-airline") or the wire number ("20").
func ParseStatusCode(raw string) (StatusCode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		s := StatusCode(n)
		if !s.Valid() {
			return 0, fmt.Errorf("invalid status code %d", n)
		}
		return s, nil
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	for code, name := range statusNames {
		if name == raw {
			return code, nil
		}
	}
	return 0, fmt.Errorf("invalid status %q", raw)
}
