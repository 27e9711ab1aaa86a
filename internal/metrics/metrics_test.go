// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordAdmission(t *testing.T) {
	before := testutil.ToFloat64(RealtimeAdmissions.WithLabelValues("per_user_limit"))
	samples := histogramCount(t, RealtimeHandshakeDuration)

	RecordAdmission("per_user_limit", 3*time.Millisecond)
	RecordAdmission("per_user_limit", 5*time.Millisecond)

	got := testutil.ToFloat64(RealtimeAdmissions.WithLabelValues("per_user_limit"))
	if got-before != 2 {
		t.Errorf("admissions delta = %v, want 2", got-before)
	}
	if got := histogramCount(t, RealtimeHandshakeDuration) - samples; got != 2 {
		t.Errorf("handshake samples delta = %d, want 2", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/healthz", "200"))

	RecordAPIRequest("GET", "/healthz", 200, time.Millisecond)

	got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	if got-before != 1 {
		t.Errorf("requests delta = %v, want 1", got-before)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)

	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)

	if got := testutil.ToFloat64(APIActiveRequests); got-before != 1 {
		t.Errorf("active delta = %v, want 1", got-before)
	}
	TrackActiveRequest(false)
}

func TestSetServerMisconfigured(t *testing.T) {
	SetServerMisconfigured(true)
	if got := testutil.ToFloat64(RealtimeServerMisconfigured); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
	SetServerMisconfigured(false)
	if got := testutil.ToFloat64(RealtimeServerMisconfigured); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}
