package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// Schedule frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

// jobFields turns a frequency into the gateway's cron-like job.* parameters,
// anchored on start.
func jobFields(freq string, start time.Time) (map[string]string, error) {
	start = start.UTC()
	job := map[string]string{
		"job.second": "0",
		"job.minute": strconv.Itoa(start.Minute()),
		"job.hour":   strconv.Itoa(start.Hour()),
	}
	switch strings.ToLower(freq) {
	case FrequencyDaily:
		job["job.dayOfMonth"] = "*"
		job["job.month"] = "*"
		job["job.dayOfWeek"] = "?"
	case FrequencyWeekly:
		job["job.dayOfMonth"] = "?"
		job["job.month"] = "*"
		job["job.dayOfWeek"] = strconv.Itoa(int(start.Weekday()) + 1)
	case FrequencyMonthly:
		job["job.dayOfMonth"] = strconv.Itoa(min(start.Day(), 28))
		job["job.month"] = "*"
		job["job.dayOfWeek"] = "?"
	case FrequencyYearly:
		job["job.dayOfMonth"] = strconv.Itoa(min(start.Day(), 28))
		job["job.month"] = strconv.Itoa(int(start.Month()))
		job["job.dayOfWeek"] = "?"
	default:
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("unsupported frequency %q", freq),
			apperr.WithStatus(http.StatusBadRequest))
	}
	return job, nil
}

// NextRun returns the first run after from for the given frequency.
func NextRun(freq string, from time.Time) time.Time {
	switch strings.ToLower(freq) {
	case FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}
