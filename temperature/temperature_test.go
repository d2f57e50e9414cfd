package temperature

import (
	"math"
	"testing"
)

func TestKelvinIn(t *testing.T) {
	k := Kelvin(77.35)
	if c := k.In(UnitCelsius); math.Abs(c-(-195.8)) > 1e-9 {
		t.Errorf("expected -195.8 C, got %g", c)
	}
	if f := Kelvin(273.15).In(UnitFahrenheit); math.Abs(f-32) > 1e-9 {
		t.Errorf("expected 32 F, got %g", f)
	}
	if k.In(UnitKelvin) != 77.35 {
		t.Error("Kelvin was not returned unchanged")
	}
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]Unit{"": UnitKelvin, "c": UnitCelsius, "Fahrenheit": UnitFahrenheit} {
		got, err := ParseUnit(in)
		if err != nil || got != want {
			t.Errorf("%q: expected %s, got %s, %v", in, want, got, err)
		}
	}
	if _, err := ParseUnit("R"); err == nil {
		t.Error("expected Rankine to be rejected")
	}
}
