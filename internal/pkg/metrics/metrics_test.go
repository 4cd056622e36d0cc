package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetImageState(t *testing.T) {
	known := []string{"New", "Valid"}
	SetImageState("Valid", known)

	assert.Equal(t, 1.0, testutil.ToFloat64(OTAImageState.WithLabelValues("Valid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(OTAImageState.WithLabelValues("New")))
}

func TestHandlerServesRegistry(t *testing.T) {
	LightWritesTotal.WithLabelValues("http").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lightbringer_light_writes_total")
}
