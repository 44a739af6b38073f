package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stock response processors shared by the command families.

func PassThrough(data any) (any, error) {
	return data, nil
}

func ToInt(data any) (any, error) {
	n, err := coerceInt(data)
	if err != nil {
		return nil, fmt.Errorf("command: invalid integer value %v", data)
	}
	return n, nil
}

// ToIntOrUnknown parses an int and degrades to nil on failure; used for
// replies like scene numbers the controller sometimes reports as unknown.
func ToIntOrUnknown(data any) (any, error) {
	n, err := coerceInt(data)
	if err != nil {
		return nil, nil
	}
	return n, nil
}

func ToFloat(data any) (any, error) {
	f, err := coerceFloat(data)
	if err != nil {
		return nil, fmt.Errorf("command: invalid float value %v", data)
	}
	return f, nil
}

// LatLong is a parsed latitude/longitude reply.
type LatLong struct {
	Latitude  float64
	Longitude float64
}

func ToLatLong(data any) (any, error) {
	parts, ok := data.([]any)
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("command: invalid lat/long value %v", data)
	}
	lat, latErr := coerceFloat(parts[0])
	long, longErr := coerceFloat(parts[1])
	if latErr != nil || longErr != nil {
		return nil, fmt.Errorf("command: invalid lat/long value %v", data)
	}
	return LatLong{Latitude: lat, Longitude: long}, nil
}

// ToTime parses HH:MM:SS replies (system time, sunrise, sunset).
func ToTime(data any) (any, error) {
	parsed, err := time.Parse("15:04:05", fmt.Sprint(data))
	if err != nil {
		return nil, fmt.Errorf("command: invalid time value %v", data)
	}
	return parsed, nil
}

// ToDate parses MM/DD/YYYY replies.
func ToDate(data any) (any, error) {
	parsed, err := time.Parse("01/02/2006", fmt.Sprint(data))
	if err != nil {
		return nil, fmt.Errorf("command: invalid date value %v", data)
	}
	return parsed, nil
}

// ToTimezone parses a [+-]HH:MM offset into a duration.
func ToTimezone(data any) (any, error) {
	raw := fmt.Sprint(data)
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(raw, "-"):
		sign = -1
		raw = raw[1:]
	case strings.HasPrefix(raw, "+"):
		raw = raw[1:]
	}
	hoursStr, minutesStr, found := strings.Cut(raw, ":")
	if !found {
		return nil, fmt.Errorf("command: invalid timezone offset %v", data)
	}
	hours, hoursErr := strconv.Atoi(hoursStr)
	minutes, minutesErr := strconv.Atoi(minutesStr)
	if hoursErr != nil || minutesErr != nil {
		return nil, fmt.Errorf("command: invalid timezone offset %v", data)
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}

func coerceInt(data any) (int64, error) {
	switch v := data.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return strconv.ParseInt(strings.TrimSpace(fmt.Sprint(data)), 10, 64)
	}
}

func coerceFloat(data any) (float64, error) {
	switch v := data.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(data)), 64)
	}
}
