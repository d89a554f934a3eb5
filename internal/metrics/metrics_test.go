package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRemoteCall(t *testing.T) {
	before := testutil.ToFloat64(RemoteCalls.WithLabelValues("create", "ok"))
	ObserveRemoteCall("create", "ok", time.Now().Add(-10*time.Millisecond))
	assert.Equal(t, before+1, testutil.ToFloat64(RemoteCalls.WithLabelValues("create", "ok")))
}

func TestSetOnline(t *testing.T) {
	SetOnline(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(Online))
	SetOnline(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(Online))
}
