package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pitchside/hub/internal/domain"
)

// Round-trip law: any amount with at most six decimal places survives the
// micro-unit wire format exactly.
func TestMicroUnits_RoundTrip(t *testing.T) {
	cases := []string{"0", "1", "0.000001", "123.456789", "999999.999999", "0.5", "42.1"}
	for _, s := range cases {
		d := decimal.RequireFromString(s)
		back := domain.FromMicroUnits(domain.ToMicroUnits(d))
		if !back.Equal(d) {
			t.Errorf("round trip %s -> %d -> %s", d, domain.ToMicroUnits(d), back)
		}
	}
}

func TestToMicroUnits_Rounds(t *testing.T) {
	// Beyond six decimals rounds half away from zero.
	d := decimal.RequireFromString("1.0000005")
	if got := domain.ToMicroUnits(d); got != 1000001 {
		t.Errorf("ToMicroUnits(1.0000005) = %d, want 1000001", got)
	}
	d = decimal.RequireFromString("2.0000004")
	if got := domain.ToMicroUnits(d); got != 2000000 {
		t.Errorf("ToMicroUnits(2.0000004) = %d, want 2000000", got)
	}
}

func TestMicroUnitString_And_Parse(t *testing.T) {
	d := decimal.RequireFromString("2")
	if got := domain.MicroUnitString(d); got != "2000000" {
		t.Errorf("MicroUnitString(2) = %q, want \"2000000\"", got)
	}

	parsed, err := domain.ParseMicroUnits("2000000")
	if err != nil {
		t.Fatalf("ParseMicroUnits: %v", err)
	}
	if !parsed.Equal(d) {
		t.Errorf("ParseMicroUnits(\"2000000\") = %s, want 2", parsed)
	}

	if _, err = domain.ParseMicroUnits("not-a-number"); err == nil {
		t.Error("ParseMicroUnits should reject garbage")
	}
}

func TestSessionDataVersion(t *testing.T) {
	blob := domain.EncodeSessionData(domain.ResolutionData{
		V:      domain.SessionDataResolution,
		Mode:   domain.ModeLMSR,
		Result: domain.ResultWin,
	})
	if v := domain.SessionDataVersion(blob); v != 3 {
		t.Errorf("SessionDataVersion = %d, want 3", v)
	}
	if v := domain.SessionDataVersion(nil); v != 0 {
		t.Errorf("SessionDataVersion(nil) = %d, want 0", v)
	}
	if v := domain.SessionDataVersion([]byte("{broken")); v != 0 {
		t.Errorf("SessionDataVersion(broken) = %d, want 0", v)
	}
}
