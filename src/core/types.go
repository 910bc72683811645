package main

import (
	"fmt"
	"sort"
)

// Ledger parameters
const (
	InsuranceCapEther          = 1
	MinAirlineFundingEther     = 10
	OracleRegistrationFeeEther = 1

	// Funded airlines that may register others without a vote
	AirlineConsensusThreshold = 4

	// Distinct oracles that must agree on a status value
	OracleQuorum = 3

	// Indices are drawn from [0, OracleIndexSpace)
	OracleIndexSpace = 10
	OracleIndexCount = 3

	PayoutNumerator   = 3
	PayoutDenominator = 2
)

// InsuranceCap is the maximum insured amount per passenger and flight
var InsuranceCap = Ether(InsuranceCapEther)

// MinAirlineFunding is the stake an airline pays to become active
var MinAirlineFunding = Ether(MinAirlineFundingEther)

// OracleRegistrationFee is the stake an oracle pays to register
var OracleRegistrationFee = Ether(OracleRegistrationFeeEther)

// AirlineState is the onboarding state of an airline
type AirlineState int

const (
	AirlineUnregistered AirlineState = iota
	AirlinePendingVote
	AirlineRegistered
	AirlineFunded
)

func (s AirlineState) String() string {
	switch s {
	case AirlineUnregistered:
		return "unregistered"
	case AirlinePendingVote:
		return "pending_vote"
	case AirlineRegistered:
		return "registered"
	case AirlineFunded:
		return "funded"
	default:
		return "unknown"
	}
}

func (s AirlineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FlightStatus is the status code an oracle reports for a flight
type FlightStatus uint8

const (
	StatusUnknown       FlightStatus = 0
	StatusOnTime        FlightStatus = 10
	StatusLateAirline   FlightStatus = 20
	StatusLateWeather   FlightStatus = 30
	StatusLateTechnical FlightStatus = 40
	StatusLateOther     FlightStatus = 50
)

// Valid reports whether s is one of the known status codes
func (s FlightStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	}
	return false
}

func (s FlightStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return fmt.Sprintf("status_%d", uint8(s))
	}
}

// FlightKey identifies one departure of a flight operated by an airline
type FlightKey struct {
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Airline, k.Flight, k.Timestamp)
}

// Less orders keys by airline, flight, then timestamp
func (k FlightKey) Less(o FlightKey) bool {
	if k.Airline != o.Airline {
		return k.Airline < o.Airline
	}
	if k.Flight != o.Flight {
		return k.Flight < o.Flight
	}
	return k.Timestamp < o.Timestamp
}

// Airline is a governance participant. Votes only ever grow.
type Airline struct {
	ID           string
	State        AirlineState
	Votes        map[string]struct{}
	FundedAmount Amount
}

// FlightPolicy is one passenger's insurance on one flight
type FlightPolicy struct {
	Key       FlightKey
	Passenger string
	Insured   Amount
	PaidOut   bool
}

// OracleRegistration holds the indices assigned to an oracle at registration
type OracleRegistration struct {
	OracleID string
	Indexes  [OracleIndexCount]uint8
	Stake    Amount
}

// HasIndex reports whether index is one of the oracle's assigned indices
func (o *OracleRegistration) HasIndex(index uint8) bool {
	for _, idx := range o.Indexes {
		if idx == index {
			return true
		}
	}
	return false
}

// StatusRequest collects oracle reports for one flight until a value reaches quorum
type StatusRequest struct {
	ID          string
	Key         FlightKey
	Index       uint8
	Responses   map[FlightStatus]map[string]struct{}
	Finalized   bool
	FinalStatus FlightStatus
}

// AirlineView is the read model of an airline
type AirlineView struct {
	ID           string       `json:"id"`
	State        AirlineState `json:"state"`
	Votes        []string     `json:"votes"`
	FundedAmount Amount       `json:"fundedAmount"`
	IsAirline    bool         `json:"isAirline"`
}

// PolicyView is the read model of a policy
type PolicyView struct {
	FlightKey
	Passenger     string `json:"passenger"`
	InsuredAmount Amount `json:"insuredAmount"`
	PaidOut       bool   `json:"paidOut"`
}

// StatusRequestView is the read model of a status request
type StatusRequestView struct {
	ID string `json:"id"`
	FlightKey
	Index       uint8                `json:"index"`
	Finalized   bool                 `json:"finalized"`
	FinalStatus *FlightStatus        `json:"finalStatus,omitempty"`
	Tallies     map[FlightStatus]int `json:"tallies"`
}

func (a *Airline) view() AirlineView {
	votes := make([]string, 0, len(a.Votes))
	for v := range a.Votes {
		votes = append(votes, v)
	}
	sort.Strings(votes)
	return AirlineView{
		ID:           a.ID,
		State:        a.State,
		Votes:        votes,
		FundedAmount: a.FundedAmount,
		IsAirline:    a.State == AirlineFunded,
	}
}

func (p *FlightPolicy) view() PolicyView {
	return PolicyView{
		FlightKey:     p.Key,
		Passenger:     p.Passenger,
		InsuredAmount: p.Insured,
		PaidOut:       p.PaidOut,
	}
}

func (r *StatusRequest) view() StatusRequestView {
	v := StatusRequestView{
		ID:        r.ID,
		FlightKey: r.Key,
		Index:     r.Index,
		Finalized: r.Finalized,
		Tallies:   make(map[FlightStatus]int, len(r.Responses)),
	}
	for status, oracles := range r.Responses {
		v.Tallies[status] = len(oracles)
	}
	if r.Finalized {
		final := r.FinalStatus
		v.FinalStatus = &final
	}
	return v
}

// EventType tags ledger events
type EventType string

const (
	EventOracleRequest    EventType = "ORACLE_REQUEST"
	EventOracleReport     EventType = "ORACLE_REPORT"
	EventFlightStatusInfo EventType = "FLIGHT_STATUS_INFO"
	EventInsurancePayout  EventType = "INSURANCE_PAYOUT"
)

// Event is published by the ledger for external observers such as oracle agents
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Index     uint8        `json:"index"`
	Airline   string       `json:"airline"`
	Flight    string       `json:"flight"`
	Timestamp int64        `json:"timestamp"`
	Status    FlightStatus `json:"status"`
	Oracle    string       `json:"oracle,omitempty"`
	Passenger string       `json:"passenger,omitempty"`
	Amount    *Amount      `json:"amount,omitempty"`
	EmittedAt int64        `json:"emittedAt"`
}

// Key returns the flight key the event refers to
func (e Event) Key() FlightKey {
	return FlightKey{Airline: e.Airline, Flight: e.Flight, Timestamp: e.Timestamp}
}
