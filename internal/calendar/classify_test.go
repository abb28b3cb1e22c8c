package calendar

import (
	"testing"

	"github.com/staysync/backend/internal/storage/models"
)

func TestIsAirbnbCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"HM8F2ZW3NX", true},
		{"HM1234567", true},
		{"HMABC12", false},   // too short
		{"hm8f2zw3nx", false}, // codes are upper-case
		{"PVABC1234", false},
		{"", false},
		{"XHM8F2ZW3NX", false}, // must be the whole string
	}
	for _, c := range cases {
		if got := IsAirbnbCode(c.code); got != c.want {
			t.Errorf("IsAirbnbCode(%q) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestIsPrivateCode(t *testing.T) {
	if !IsPrivateCode("PVABC123") {
		t.Error("expected PV-prefixed code to be private")
	}
	if IsPrivateCode("HM8F2ZW3NX") {
		t.Error("HM code must not be private")
	}
}

func TestNormalizeText(t *testing.T) {
	in := `Reservation URL\: https\://www.airbnb.com/x\nPhone\, last 4\ndigits`
	got := NormalizeText(in)
	want := "Reservation URL: https://www.airbnb.com/x Phone, last 4 digits"
	if got != want {
		t.Errorf("NormalizeText = %q, want %q", got, want)
	}

	if got := NormalizeText("a\r\n b\n\tc"); got != "a b c" {
		t.Errorf("whitespace flatten = %q", got)
	}
	if got := NormalizeText(""); got != "" {
		t.Errorf("empty input = %q", got)
	}
}

func TestExtractReservationDataFromURL(t *testing.T) {
	desc := `Reservation URL: https://www.airbnb.com/hosting/reservations/details/HM8F2ZW3NX\nPhone Number (Last 4 Digits): 1234`
	url, code := ExtractReservationData("uid@airbnb.com", desc, "Reserved")
	if code != "HM8F2ZW3NX" {
		t.Errorf("code = %q, want HM8F2ZW3NX", code)
	}
	if url != "https://www.airbnb.com/hosting/reservations/details/HM8F2ZW3NX" {
		t.Errorf("url = %q", url)
	}
}

func TestExtractReservationDataEscapedURL(t *testing.T) {
	// Some feeds escape the colon inside the URL.
	desc := `https\://www.airbnb.com/hosting/reservations/details/HMQZXW1234`
	_, code := ExtractReservationData("", desc, "")
	if code != "HMQZXW1234" {
		t.Errorf("code = %q, want HMQZXW1234", code)
	}
}

func TestExtractReservationDataFromText(t *testing.T) {
	_, code := ExtractReservationData("", "", "Reserved - HM12345678")
	if code != "HM12345678" {
		t.Errorf("code = %q, want HM12345678", code)
	}
}

func TestExtractReservationDataFromUID(t *testing.T) {
	url, code := ExtractReservationData("HM12345678-20250101@airbnb.com", "no codes here", "Reserved")
	if code != "HM12345678" {
		t.Errorf("code = %q, want HM12345678", code)
	}
	if url != "" {
		t.Errorf("url = %q, want empty", url)
	}
}

func TestExtractReservationDataURLWinsOverText(t *testing.T) {
	desc := "HM99999999 https://www.airbnb.com/hosting/reservations/details/HM8F2ZW3NX"
	_, code := ExtractReservationData("", desc, "")
	if code != "HM8F2ZW3NX" {
		t.Errorf("code = %q, want the URL-derived code", code)
	}
}

func TestExtractPrivateCode(t *testing.T) {
	if code := ExtractPrivateCode("Booking PVA1B2C3 confirmed"); code != "PVA1B2C3" {
		t.Errorf("code = %q, want PVA1B2C3", code)
	}
	if code := ExtractPrivateCode("no code"); code != "" {
		t.Errorf("code = %q, want empty", code)
	}
}

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		summary  string
		desc     string
		hasCode  bool
		wantType string
		wantBlk  bool
	}{
		{"Reserved", "", true, models.EventTypeReservation, false},
		{"Airbnb (Not available)", "", false, models.EventTypeBlock, true},
		{"Blocked", "", false, models.EventTypeBlock, true},
		{"Owner stay", "", false, models.EventTypeBlock, true},
		{"", "maintenance window", false, models.EventTypeBlock, true},
		{"Reserved", "", false, models.EventTypeUnknown, false},
		// A reservation code always wins, even with block keywords around.
		{"Blocked", "", true, models.EventTypeReservation, false},
	}
	for _, c := range cases {
		gotType, gotBlk := ClassifyEventType(c.summary, c.desc, c.hasCode)
		if gotType != c.wantType || gotBlk != c.wantBlk {
			t.Errorf("ClassifyEventType(%q, %q, %v) = (%q, %v), want (%q, %v)",
				c.summary, c.desc, c.hasCode, gotType, gotBlk, c.wantType, c.wantBlk)
		}
	}
}
