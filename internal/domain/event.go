package domain

import "encoding/json"

// EventType discriminates push messages fanned out to viewer sessions.
type EventType string

const (
	EventLiveUpdate   EventType = "live_update"
	EventDebitUpdate  EventType = "debit_update"
	EventValveCommand EventType = "valve_command"
	EventModeChange   EventType = "mode_change"
)

// Event is the tagged payload delivered to every connected viewer. Only the
// fields relevant to the event type are populated; the rest are omitted from
// the wire encoding.
type Event struct {
	Type         EventType       `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Electrovalve *bool           `json:"electrovalve,omitempty"`
	Mode         Mode            `json:"mode,omitempty"`
}

// LiveUpdate carries the verbatim decoded sensor reading.
func LiveUpdate(data json.RawMessage) Event {
	return Event{Type: EventLiveUpdate, Data: data}
}

// DebitUpdate carries a computed flow rate.
func DebitUpdate(rate FlowRate) Event {
	data, _ := json.Marshal(rate)
	return Event{Type: EventDebitUpdate, Data: data}
}

// ValveCommand reports the target state of a just-issued valve command,
// not a confirmed device state.
func ValveCommand(open bool) Event {
	return Event{Type: EventValveCommand, Electrovalve: &open}
}

// ModeChange reports the occupancy mode after a change from either path.
func ModeChange(m Mode) Event {
	return Event{Type: EventModeChange, Mode: m}
}
