// SPDX-License-Identifier: LGPL-3.0-or-later

package metricsserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"hostagent/logger"
	"hostagent/status"
)

func TestHealthzReportsProvisionedAsHealthy(t *testing.T) {
	hs := status.New()
	hs.ServicingState = status.StateProvisioned
	s := New("127.0.0.1:0", logger.New("error"), func() *status.HostStatus { return hs })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "provisioned", string(body))
}

func TestHealthzReportsFailedStateAsUnavailable(t *testing.T) {
	hs := status.New()
	hs.ServicingState = status.StateABUpdateFailed
	s := New("127.0.0.1:0", logger.New("error"), func() *status.HostStatus { return hs })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzReportsNotProvisionedWhenStatusIsNil(t *testing.T) {
	s := New("127.0.0.1:0", logger.New("error"), func() *status.HostStatus { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not-provisioned", string(body))
}
