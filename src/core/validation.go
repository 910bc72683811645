package main

import (
	"net/http"
	"regexp"
	"strconv"
)

var accountIDRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAccountID checks for a 0x-prefixed, 20-byte hex account address
func IsValidAccountID(id string) bool {
	return accountIDRegex.MatchString(id)
}

var flightCodeRegex = regexp.MustCompile(`^[A-Z0-9]{2,3}[0-9]{1,5}[A-Z]?$`)

// IsValidFlightCode checks for an IATA/ICAO style flight designator such as LX1234
func IsValidFlightCode(code string) bool {
	return flightCodeRegex.MatchString(code)
}

// validateFlightKey returns a client-facing message for a malformed key, or ""
func validateFlightKey(key FlightKey) string {
	if !IsValidAccountID(key.Airline) {
		return "invalid airline address"
	}
	if !IsValidFlightCode(key.Flight) {
		return "invalid flight code"
	}
	if key.Timestamp <= 0 {
		return "timestamp must be positive"
	}
	return ""
}

// flightKeyFromQuery reads airline, flight and timestamp query parameters
func flightKeyFromQuery(r *http.Request) (FlightKey, string) {
	q := r.URL.Query()
	timestamp, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
	if err != nil {
		return FlightKey{}, "invalid timestamp"
	}
	key := FlightKey{Airline: q.Get("airline"), Flight: q.Get("flight"), Timestamp: timestamp}
	return key, validateFlightKey(key)
}
