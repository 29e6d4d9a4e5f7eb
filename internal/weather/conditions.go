package weather

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// HeatIndex returns the apparent temperature in °F for tempF and relative
// humidity in percent. Below 79°F Steadman's simple form is the answer;
// from there the NWS Rothfusz regression applies with its low and high
// humidity adjustments. It is undefined (ok=false) below 80°F.
func HeatIndex(tempF, rhPercent float64) (float64, bool) {
	t := tempF
	rh := rhPercent / 100
	if t < 80 {
		return 0, false
	}

	simple := -10.3 + 1.1*t + 4.7*rh
	if simple < 79 {
		return simple, true
	}

	hi := -42.379 +
		2.04901523*t +
		1014.333127*rh -
		22.475541*t*rh -
		6.83783e-3*t*t -
		5.481717e2*rh*rh +
		1.22874e-1*t*t*rh +
		8.5282*t*rh*rh -
		1.99e-2*t*t*rh*rh

	if rhPercent <= 13 && t <= 112 {
		hi -= (13 - rhPercent) / 4 * math.Sqrt((17-math.Abs(t-95))/17)
	}
	if rhPercent > 85 && t <= 87 {
		hi += 0.02 * (rhPercent - 85) * (87 - t)
	}
	if math.IsNaN(hi) {
		return 0, false
	}
	return hi, true
}

// Conditions reads the temperature and humidity entities and formats the
// current-conditions sentence broadcast by the gateway.
func Conditions(ctx context.Context, src SensorReader, tempID, humidityID, location string) (string, error) {
	tempState, err := src.SensorState(ctx, tempID)
	if err != nil {
		return "", err
	}
	rawTemp, err := tempState.Float()
	if err != nil {
		return "", fmt.Errorf("%s: %w", tempID, err)
	}
	humState, err := src.SensorState(ctx, humidityID)
	if err != nil {
		return "", err
	}
	humidity, err := humState.Float()
	if err != nil {
		return "", fmt.Errorf("%s: %w", humidityID, err)
	}

	temp := math.RoundToEven(rawTemp)
	feels := temp
	celsius := isCelsius(tempState.Unit)
	tf := temp
	if celsius {
		tf = temp*9/5 + 32
	}
	if hi, ok := HeatIndex(tf, humidity); ok {
		if celsius {
			hi = (hi - 32) * 5 / 9
		}
		feels = math.RoundToEven(hi)
	}

	return fmt.Sprintf("Currently in %s, %d%s. Feels like %d%s. Humidity %d%s.",
		location,
		int(temp), tempState.Unit,
		int(feels), tempState.Unit,
		int(math.RoundToEven(humidity)), humState.Unit,
	), nil
}

func isCelsius(unit string) bool {
	u := strings.ToUpper(strings.TrimSpace(unit))
	return u == "°C" || u == "C" || u == "CELSIUS"
}
