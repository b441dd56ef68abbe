package poll

import "encoding/json"

// Settings is the operator configuration for the poll engine. It is loaded
// fresh from the shared store at every decision point, never cached across
// invocations, since any invocation may be the first to observe a change.
type Settings struct {
	Enabled                bool `json:"enabled"`
	AutoStartEnabled       bool `json:"autoStartEnabled"`
	DefaultDurationSeconds int  `json:"defaultDurationSeconds"`
	MinutesSinceLastPoll   int  `json:"minutesSinceLastPoll"`
}

// UnmarshalJSON migrates the legacy chatIdleMinutes field into
// MinutesSinceLastPoll when a record written by an older deploy is read.
// The new field wins when both are present.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type alias Settings
	aux := struct {
		*alias
		LegacyChatIdleMinutes *int `json:"chatIdleMinutes"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if s.MinutesSinceLastPoll == 0 && aux.LegacyChatIdleMinutes != nil {
		s.MinutesSinceLastPoll = *aux.LegacyChatIdleMinutes
	}
	return nil
}

// defaultSettings applies when the poll_settings key is absent.
func defaultSettings(defaultDurationSeconds int) Settings {
	return Settings{
		Enabled:                true,
		AutoStartEnabled:       false,
		DefaultDurationSeconds: defaultDurationSeconds,
		MinutesSinceLastPoll:   15,
	}
}
