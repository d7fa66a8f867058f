package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AsMap flattens the settings into section.key form values, the shape the
// configuration web form binds to.
func (st *Store) AsMap() map[string]string {
	s := st.Settings()
	out := map[string]string{
		"general.dailyZoneCap":    strconv.Itoa(s.DailyZoneCap),
		"weather.enabled":         formBool(s.Weather.Enabled),
		"weather.apiKey":          s.Weather.APIKey,
		"weather.station":         s.Weather.StationID,
		"weather.latitude":        formFloat(s.Weather.Latitude),
		"weather.longitude":       formFloat(s.Weather.Longitude),
		"weather.requestsPerMin":  strconv.Itoa(s.Weather.RequestsPerMinute),
		"weather.cacheTTL":        s.Weather.CacheTTL.String(),
		"weather.cropCoefficient": formFloat(s.Weather.CropCoefficient),
	}
	for i, z := range s.Zones {
		p := fmt.Sprintf("zone%d.", i+1)
		out[p+"name"] = z.Name
		out[p+"enabled"] = formBool(z.Enabled)
		out[p+"pin"] = strconv.Itoa(z.Pin)
		out[p+"rainSensorPin"] = strconv.Itoa(z.RainSensorPin)
		out[p+"rainBlocksBookkeeping"] = formBool(z.RainBlocksBookkeeping)
		out[p+"mqttTopic"] = z.MQTTTopic
		out[p+"ratePerHour"] = formFloat(z.RatePerHour)
		out[p+"currentET"] = formFloat(z.CurrentET)
	}
	for i, m := range s.Schedules {
		p := fmt.Sprintf("schedule%d.", i+1)
		out[p+"enabled"] = formBool(m.Enabled)
		out[p+"start"] = m.Start
		out[p+"threshold"] = formFloat(m.Threshold)
		out[p+"zonesToSkip"] = formInts(m.ZonesToSkip)
	}
	return out
}

// FromMap applies section.key form values onto the settings and persists
// them. Unknown keys are rejected so typos in a form do not vanish silently.
func (st *Store) FromMap(values map[string]string) error {
	return st.Update(func(s *Settings) error {
		for key, value := range values {
			if err := applyFormValue(s, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyFormValue(s *Settings, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("invalid form key %q", key)
	}

	switch {
	case section == "general":
		if field != "dailyZoneCap" {
			return fmt.Errorf("unknown form key %q", key)
		}
		return parseInt(key, value, &s.DailyZoneCap)

	case section == "weather":
		return applyWeatherValue(&s.Weather, key, field, value)

	case strings.HasPrefix(section, "zone"):
		i, err := strconv.Atoi(strings.TrimPrefix(section, "zone"))
		if err != nil || i < 1 || i > len(s.Zones) {
			return fmt.Errorf("unknown zone in form key %q", key)
		}
		return applyZoneValue(&s.Zones[i-1], key, field, value)

	case strings.HasPrefix(section, "schedule"):
		i, err := strconv.Atoi(strings.TrimPrefix(section, "schedule"))
		if err != nil || i < 1 || i > len(s.Schedules) {
			return fmt.Errorf("unknown schedule in form key %q", key)
		}
		return applyScheduleValue(&s.Schedules[i-1], key, field, value)
	}
	return fmt.Errorf("unknown form key %q", key)
}

func applyWeatherValue(w *WeatherSettings, key, field, value string) error {
	switch field {
	case "enabled":
		w.Enabled = parseBool(value)
	case "apiKey":
		w.APIKey = value
	case "station":
		w.StationID = value
	case "latitude":
		return parseFloat(key, value, &w.Latitude)
	case "longitude":
		return parseFloat(key, value, &w.Longitude)
	case "requestsPerMin":
		return parseInt(key, value, &w.RequestsPerMinute)
	case "cacheTTL":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		w.CacheTTL = d
	case "cropCoefficient":
		return parseFloat(key, value, &w.CropCoefficient)
	default:
		return fmt.Errorf("unknown form key %q", key)
	}
	return nil
}

func applyZoneValue(z *ZoneSettings, key, field, value string) error {
	switch field {
	case "name":
		z.Name = value
	case "enabled":
		z.Enabled = parseBool(value)
	case "pin":
		return parseInt(key, value, &z.Pin)
	case "rainSensorPin":
		return parseInt(key, value, &z.RainSensorPin)
	case "rainBlocksBookkeeping":
		z.RainBlocksBookkeeping = parseBool(value)
	case "mqttTopic":
		z.MQTTTopic = value
	case "ratePerHour":
		return parseFloat(key, value, &z.RatePerHour)
	case "currentET":
		return parseFloat(key, value, &z.CurrentET)
	default:
		return fmt.Errorf("unknown form key %q", key)
	}
	return nil
}

func applyScheduleValue(m *MonthSchedule, key, field, value string) error {
	switch field {
	case "enabled":
		m.Enabled = parseBool(value)
	case "start":
		probe := MonthSchedule{Start: value}
		if _, _, err := probe.StartClock(); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		m.Start = value
	case "threshold":
		return parseFloat(key, value, &m.Threshold)
	case "zonesToSkip":
		skips, err := parseInts(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		m.ZonesToSkip = skips
	default:
		return fmt.Errorf("unknown form key %q", key)
	}
	return nil
}

func formBool(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func formFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(key, v string, out *float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*out = f
	return nil
}

func parseInt(key, v string, out *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*out = n
	return nil
}

func formInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func parseInts(v string) ([]int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
