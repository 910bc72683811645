package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// statusRequestID derives a stable identifier for a status request from its index and flight key
func statusRequestID(index uint8, key FlightKey) string {
	data, _ := json.Marshal(struct {
		Index     uint8
		Airline   string
		Flight    string
		Timestamp int64
	}{
		Index:     index,
		Airline:   key.Airline,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
	})

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
