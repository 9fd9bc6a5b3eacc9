package domain

import (
	"math"
	"time"
)

// Exit status convention shared with the server side.
const (
	StatusOK       = 0
	StatusWarning  = 1
	StatusCritical = 2
	StatusUnknown  = 3
)

// Bus destinations.
const (
	QueueResults    = "results"
	QueueKeepalives = "keepalives"
)

type CheckResult struct {
	Output   string  `json:"output"`
	Status   int     `json:"status"`
	Duration float64 `json:"duration"`
}

// Seconds converts an elapsed time into the 3-decimal seconds used on the wire.
func Seconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

// ResultPayload is the envelope published to the results queue.
type ResultPayload struct {
	Check  Check  `json:"check"`
	Client string `json:"client"`
}

// NewResultPayload stamps the executed time on the check.
func NewResultPayload(check Check, client string, now time.Time) ResultPayload {
	check[FieldExecuted] = now.Unix()
	return ResultPayload{
		Check:  check,
		Client: client,
	}
}
