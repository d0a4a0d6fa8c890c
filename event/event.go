package event

import (
	"time"

	"github.com/numtide/cert-renewer/appcontext"
)

type EventType int

const (
	Renewed EventType = iota
	RenewalFailed
)

func (t EventType) String() string {
	switch t {
	case Renewed:
		return "renewed"
	case RenewalFailed:
		return "renewal_failed"
	}
	return "unknown"
}

// Event describes the outcome of one renewal attempt. For Renewed, Certificate is
// the record returned by the registry; for RenewalFailed it is the record that was
// due and Err holds the cause.
type Event struct {
	Type        EventType
	Certificate appcontext.Certificate
	Err         error
	At          time.Time
}
