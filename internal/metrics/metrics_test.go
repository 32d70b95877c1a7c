package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveDispatch("fetch", "responded", 10*time.Millisecond)
	c.ObserveExtensions("fetch", 1, 0)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range []string{
		"serviceworker_dispatches_total",
		"serviceworker_dispatch_duration_seconds",
		"serviceworker_extensions_total",
		"serviceworker_reported_exceptions_total",
	} {
		assert.True(t, found[name], "metric %q not registered", name)
	}
}

func TestObserveDispatchLabels(t *testing.T) {
	c := New(nil)
	c.ObserveDispatch("fetch", "responded", time.Millisecond)
	c.ObserveDispatch("fetch", "responded", time.Millisecond)
	c.ObserveDispatch("install", "completed", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.dispatches.WithLabelValues("fetch", "responded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatches.WithLabelValues("install", "completed")))
}

func TestObserveExtensionsSkipsZero(t *testing.T) {
	c := New(nil)
	c.ObserveExtensions("activate", 3, 0)
	c.ObserveExtensions("activate", 0, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.extensions.WithLabelValues("activate", extensionFulfilled)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.extensions.WithLabelValues("activate", extensionRejected)))
}

func TestObserveException(t *testing.T) {
	c := New(nil)
	c.ObserveException(false)
	c.ObserveException(false)
	c.ObserveException(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.exceptions.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exceptions.WithLabelValues("true")))
}
