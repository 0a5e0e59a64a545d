package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(holdsTotal.WithLabelValues("created"))
	IncHold("created")
	assert.Equal(t, before+1, testutil.ToFloat64(holdsTotal.WithLabelValues("created")))

	swept := testutil.ToFloat64(holdsSwept)
	AddHoldsSwept(0)
	AddHoldsSwept(3)
	assert.Equal(t, swept+3, testutil.ToFloat64(holdsSwept))

	IncWebhookEvent("rapyd", "processed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(webhookEvents.WithLabelValues("rapyd", "processed")), 1.0)
}
