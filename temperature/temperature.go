// Package temperature holds the temperature units used by the cryogenic
// instruments and the conversions between them
package temperature

import (
	"fmt"
	"strings"
)

type (
	// Celsius is a temperature in C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Fahrenheit is a temperature in deg F
	Fahrenheit float64
)

// C2F converts a temp in Celsius to Fahrenheit
func C2F(c Celsius) Fahrenheit {
	return Fahrenheit(c*9/5 + 32)
}

// C2K converts a temp in Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + 273.15)
}

// K2C converts a temp in Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// F2C converts a temp in Fahrenheit to Celcius
func F2C(f Fahrenheit) Celsius {
	return Celsius((f - 32) * 5 / 9)
}

func (k Kelvin) String() string {
	return fmt.Sprintf("%.3f K", float64(k))
}

func (c Celsius) String() string {
	return fmt.Sprintf("%.3f C", float64(c))
}

// Unit is a display unit, "K", "C" or "F"
type Unit string

// Units
const (
	UnitKelvin     Unit = "K"
	UnitCelsius    Unit = "C"
	UnitFahrenheit Unit = "F"
)

// ParseUnit accepts K, C, F or their names, in any case.  The empty string
// is Kelvin
func ParseUnit(s string) (Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "K", "KELVIN":
		return UnitKelvin, nil
	case "C", "CELSIUS":
		return UnitCelsius, nil
	case "F", "FAHRENHEIT":
		return UnitFahrenheit, nil
	}
	return "", fmt.Errorf("unknown temperature unit %q", s)
}

// In expresses k in unit u
func (k Kelvin) In(u Unit) float64 {
	switch u {
	case UnitCelsius:
		return float64(K2C(k))
	case UnitFahrenheit:
		return float64(C2F(K2C(k)))
	default:
		return float64(k)
	}
}
