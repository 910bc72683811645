package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAmountArithmetic(t *testing.T) {
	if got := Ether(1).String(); got != "1000000000000000000" {
		t.Errorf("Ether(1) = %s", got)
	}
	if got := Fraction(1, 2).String(); got != "500000000000000000" {
		t.Errorf("Fraction(1, 2) = %s", got)
	}

	sum, overflow := Ether(1).Add(Wei(5))
	if overflow || sum.String() != "1000000000000000005" {
		t.Errorf("Add = %s, overflow %v", sum, overflow)
	}

	maxAmount, _ := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if _, overflow := maxAmount.Add(Wei(1)); !overflow {
		t.Error("Expected overflow at 2^256")
	}

	if got := Wei(5).Sub(Wei(7)); !got.IsZero() {
		t.Errorf("Expected saturating subtraction, got %s", got)
	}
	if got := Wei(7).Sub(Wei(5)); got.Cmp(Wei(2)) != 0 {
		t.Errorf("Sub = %s", got)
	}

	if got := Wei(7).MulDiv(3, 2); got.Cmp(Wei(10)) != 0 {
		t.Errorf("MulDiv rounds down: got %s", got)
	}

	if Wei(1).Cmp(Wei(2)) >= 0 || Wei(2).Cmp(Wei(1)) <= 0 || Wei(2).Cmp(Wei(2)) != 0 {
		t.Error("Cmp ordering is wrong")
	}

	if f := Fraction(3, 2).Float64(); f != 1.5e18 {
		t.Errorf("Float64 = %v", f)
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]string{
		"0":                   "0",
		"1000000000000000000": "1000000000000000000",
		" 42 ":                "42",
	}
	for input, want := range valid {
		got, err := ParseAmount(input)
		if err != nil {
			t.Errorf("ParseAmount(%q) failed: %v", input, err)
			continue
		}
		if got.String() != want {
			t.Errorf("ParseAmount(%q) = %s, want %s", input, got, want)
		}
	}

	for _, input := range []string{"", "-1", "+1", "1.5", "abc", "0x10"} {
		if _, err := ParseAmount(input); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q): expected ErrInvalidAmount, got %v", input, err)
		}
	}
}

func TestAmountJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Amount `json:"amount"`
	}{Ether(2)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"amount":"2000000000000000000"}` {
		t.Errorf("Unexpected JSON %s", data)
	}

	tests := map[string]string{
		`{"amount":"1500"}`: "1500",
		`{"amount":1500}`:   "1500",
		`{"amount":null}`:   "0",
		`{}`:                "0",
	}
	for input, want := range tests {
		var out struct {
			Amount Amount `json:"amount"`
		}
		if err := json.Unmarshal([]byte(input), &out); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", input, err)
			continue
		}
		if out.Amount.String() != want {
			t.Errorf("Unmarshal(%s) = %s, want %s", input, out.Amount, want)
		}
	}

	for _, input := range []string{`{"amount":"-5"}`, `{"amount":1.5}`, `{"amount":"ten"}`} {
		var out struct {
			Amount Amount `json:"amount"`
		}
		if err := json.Unmarshal([]byte(input), &out); err == nil {
			t.Errorf("Expected Unmarshal(%s) to fail", input)
		}
	}
}
