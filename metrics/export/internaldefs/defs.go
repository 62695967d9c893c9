package internaldefs

import (
	goAuthTree "github.com/MrEthical07/goAuthTree"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goAuthTree.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goAuthTree.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: goAuthTree.MetricJourneyStarted, Name: "authtree_journey_started_total", Help: "Journeys started."},
	{ID: goAuthTree.MetricJourneySuccess, Name: "authtree_journey_success_total", Help: "Journeys that reached the success terminal."},
	{ID: goAuthTree.MetricJourneyFailure, Name: "authtree_journey_failure_total", Help: "Journeys that ended in failure."},
	{ID: goAuthTree.MetricJourneyExpired, Name: "authtree_journey_expired_total", Help: "Journeys that exceeded their maximum duration."},
	{ID: goAuthTree.MetricJourneyResumed, Name: "authtree_journey_resumed_total", Help: "Suspended journeys resumed from a link."},
	{ID: goAuthTree.MetricNodeAdvance, Name: "authtree_node_advance_total", Help: "Node steps that advanced along an outcome."},
	{ID: goAuthTree.MetricNodeRequestInput, Name: "authtree_node_request_input_total", Help: "Node steps that prompted the client."},
	{ID: goAuthTree.MetricNodeSuspend, Name: "authtree_node_suspend_total", Help: "Node steps that suspended the journey."},
	{ID: goAuthTree.MetricNodeError, Name: "authtree_node_error_total", Help: "Node steps that failed with a processing error."},
	{ID: goAuthTree.MetricStaleAnswers, Name: "authtree_stale_answers_total", Help: "Answers rejected for an outdated round nonce."},
	{ID: goAuthTree.MetricRetryRejected, Name: "authtree_retry_rejected_total", Help: "Retry-limit nodes that rejected after the last attempt."},
	{ID: goAuthTree.MetricDeviceBound, Name: "authtree_device_bound_total", Help: "Devices bound to an identity."},
	{ID: goAuthTree.MetricDeviceSigned, Name: "authtree_device_signed_total", Help: "Successful device signature verifications."},
	{ID: goAuthTree.MetricLDAPLocked, Name: "authtree_ldap_locked_total", Help: "Directory authentications refused for a locked account."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: goAuthTree.MetricStepLatency, Name: "authtree_step_latency_seconds", Help: "Node step latency."},
}

// HistogramUpperBounds are the bucket bounds in seconds, without +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last, for exporters without native
// histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
