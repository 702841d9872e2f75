package models

import (
	"fmt"
	"time"
)

type NotificationKind string

const (
	KindEventCreated     NotificationKind = "event.created"
	KindEventVerified    NotificationKind = "event.verified"
	KindFundApproved     NotificationKind = "fund.approved"
	KindFundDistributed  NotificationKind = "fund.distributed"
	KindDonationRecorded NotificationKind = "donation.recorded"
	KindCustodyDeposited NotificationKind = "custody.deposited"
	KindPrincipalGranted NotificationKind = "principal.granted"
	KindPrincipalRevoked NotificationKind = "principal.revoked"
)

const (
	AggregateEvent     = "event"
	AggregateFund      = "fund"
	AggregateDonation  = "donation"
	AggregateCustody   = "custody"
	AggregatePrincipal = "principal"
)

// Notification records one committed state transition.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	AggregateType string           `json:"aggregate_type"`
	AggregateID   string           `json:"aggregate_id"`
	Principal     string           `json:"principal"`
	Timestamp     time.Time        `json:"timestamp"`
	Details       map[string]any   `json:"details,omitempty"`
}

// AggregateKey identifies the aggregate a notification belongs to.
func (n Notification) AggregateKey() string {
	return fmt.Sprintf("%s:%s", n.AggregateType, n.AggregateID)
}
