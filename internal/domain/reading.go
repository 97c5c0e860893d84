package domain

import "time"

// Measurement is the name of the time-series the relay writes to.
const Measurement = "water_usage"

// SensorReading is the decoded wire message from the water meter.
// Both fields use pointers so a missing field is distinguishable from a
// zero value; a reading with either field absent is rejected.
type SensorReading struct {
	WaterUsed    *float64 `json:"water_used"`
	Electrovalve *bool    `json:"electrovalve"`
}

// TelemetryPoint is one persisted sensor reading. Timestamp is write time,
// not device time. Nonce is derived from the write-time clock and acts as a
// tie-breaker between points written in the same instant.
type TelemetryPoint struct {
	WaterUsed    float64   `json:"water_used"`
	Electrovalve bool      `json:"electrovalve"`
	Nonce        int64     `json:"nonce"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsagePoint is a single (time, counter) pair returned by a range query.
type UsagePoint struct {
	Timestamp time.Time
	WaterUsed float64
}

// FlowRate is the derived flow statistic for a trailing window.
// AverageFlowRate is in raw counter units per downsample interval;
// LitersPerMinute applies the device calibration constant.
type FlowRate struct {
	AverageFlowRate float64 `json:"average_flow_rate"`
	LitersPerMinute float64 `json:"liters_per_minute"`
	Unit            string  `json:"unit"`
	Duration        string  `json:"duration"`
}
