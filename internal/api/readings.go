package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/irrigation-core/internal/audit"
	"github.com/nerrad567/irrigation-core/internal/ingest"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// Statistics periods.
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// Chart types.
const (
	ChartMoisture = "moisture"
	ChartRelay    = "relay"
)

const (
	defaultChartHours = 24
	maxChartHours     = 24 * 31
)

// createReadingRequest is the body of POST /readings. Analog and
// RelayStatus are derived from Value when omitted.
type createReadingRequest struct {
	Value       *float64 `json:"value"`
	Analog      *int     `json:"analog,omitempty"`
	RelayStatus *string  `json:"relay_status,omitempty"`
}

// statsResponse is the body of GET /readings/stats.
type statsResponse struct {
	Period   string                     `json:"period"`
	Since    time.Time                  `json:"since"`
	Moisture *telemetry.MoistureStats   `json:"moisture"`
	Relay    *telemetry.RelayCounts     `json:"relay"`
	Hourly   []telemetry.HourlyMoisture `json:"hourly"`
}

// chartResponse is the body of GET /readings/chart.
type chartResponse struct {
	Type  string `json:"type"`
	Hours int    `json:"hours"`
	Data  any    `json:"data"`
}

// periodStart returns the start of the statistics window ending at now.
func periodStart(period string, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch period {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return now.AddDate(0, -1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("period must be one of today, week, month")
	}
}

// handleListReadings returns a page of readings, newest first.
//
// Query parameters:
//   - limit: page size (default 100, max 1000)
//   - offset: pagination offset
//   - from, to: inclusive UTC calendar days (YYYY-MM-DD)
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pageParams(q, telemetry.DefaultReadingLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	from, to, err := dateRange(q)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.telemetry.ListReadings(r.Context(), telemetry.RangeFilter{
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list readings", "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data:       page.Readings,
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
	})
}

// handleLatestReading returns the most recent reading.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.telemetry.LatestReading(r.Context())
	if err != nil {
		s.logger.Error("failed to read latest reading", "error", err)
		writeInternalError(w, "failed to read latest reading")
		return
	}
	if reading == nil {
		writeNotFound(w, "no readings stored")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleReadingStats summarises readings and relay activity for a period,
// with hourly moisture averages over the last 24 hours.
func (s *Server) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = PeriodToday
	}
	now := time.Now().UTC()
	since, err := periodStart(period, now)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	moisture, err := s.telemetry.MoistureStats(ctx, since)
	if err != nil {
		s.logger.Error("failed to compute moisture stats", "period", period, "error", err)
		writeInternalError(w, "failed to compute statistics")
		return
	}
	relay, err := s.telemetry.RelayCounts(ctx, since)
	if err != nil {
		s.logger.Error("failed to count relay events", "period", period, "error", err)
		writeInternalError(w, "failed to compute statistics")
		return
	}
	hourly, err := s.telemetry.HourlyMoisture(ctx, now.Add(-defaultChartHours*time.Hour))
	if err != nil {
		s.logger.Error("failed to compute hourly moisture", "error", err)
		writeInternalError(w, "failed to compute statistics")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Period:   period,
		Since:    since,
		Moisture: moisture,
		Relay:    relay,
		Hourly:   hourly,
	})
}

// handleReadingChart returns hourly buckets for the moisture or relay chart.
//
// Query parameters:
//   - type: moisture (default) or relay
//   - hours: window length (default 24, max 744)
func (s *Server) handleReadingChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chartType := q.Get("type")
	if chartType == "" {
		chartType = ChartMoisture
	}
	hours, err := intParam(q, "hours", defaultChartHours)
	if err != nil || hours == 0 || hours > maxChartHours {
		writeBadRequest(w, fmt.Sprintf("hours must be between 1 and %d", maxChartHours))
		return
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	var data any
	switch chartType {
	case ChartMoisture:
		data, err = s.telemetry.HourlyMoisture(r.Context(), since)
	case ChartRelay:
		data, err = s.telemetry.HourlyRelay(r.Context(), since)
	default:
		writeBadRequest(w, "type must be moisture or relay")
		return
	}
	if err != nil {
		s.logger.Error("failed to build chart", "type", chartType, "error", err)
		writeInternalError(w, "failed to build chart")
		return
	}

	writeJSON(w, http.StatusOK, chartResponse{Type: chartType, Hours: hours, Data: data})
}

// handleCreateReading stores a manually entered reading. It goes through
// the ingestion pipeline, so alerts and live updates follow as they would
// for a broker message.
func (s *Server) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	var req createReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	reading, msg := s.buildManualReading(req)
	if reading == nil {
		writeValidationError(w, msg)
		return
	}

	if err := s.readings.Record(r.Context(), reading); err != nil {
		writeInternalError(w, "failed to store reading")
		return
	}

	actor := actorFromContext(r.Context())
	s.logger.Info("manual reading stored",
		"id", reading.ID,
		"value", reading.Value,
		"actor", actor,
	)
	s.auditLog(audit.EntityReading, audit.ActionCreate, strconv.FormatInt(reading.ID, 10), actor,
		nil, audit.StringPtr(strconv.FormatFloat(reading.Value, 'f', -1, 64)))
	writeJSON(w, http.StatusCreated, reading)
}

// buildManualReading validates req and fills in derived fields. It returns
// a nil reading and a message when req is rejected.
func (s *Server) buildManualReading(req createReadingRequest) (*telemetry.Reading, string) {
	if req.Value == nil {
		return nil, "value is required"
	}
	value := *req.Value
	if math.IsNaN(value) || value <= 0 || value > 100 {
		return nil, "value must be greater than 0 and at most 100"
	}

	reading := &telemetry.Reading{
		Value:       value,
		Analog:      ingest.DeriveAnalog(value),
		RelayStatus: ingest.DeriveRelayStatus(value, s.readings.RelayCutoff()),
		Timestamp:   time.Now().UTC(),
	}
	if req.Analog != nil {
		if *req.Analog < ingest.AnalogMin || *req.Analog > ingest.AnalogMax {
			return nil, fmt.Sprintf("analog must be between %d and %d", ingest.AnalogMin, ingest.AnalogMax)
		}
		reading.Analog = *req.Analog
	}
	if req.RelayStatus != nil {
		status := telemetry.RelayStatus(*req.RelayStatus)
		if !status.Valid() {
			return nil, "relay_status must be on or off"
		}
		reading.RelayStatus = status
	}
	return reading, ""
}
