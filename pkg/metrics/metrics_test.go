package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationCounter(t *testing.T) {
	m := New()
	m.Operation("pay_emi", ResultOK)
	m.Operation("pay_emi", ResultOK)
	m.Operation("pay_emi", ResultRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("pay_emi", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("pay_emi", ResultRejected)))
}

func TestPortfolioGauges(t *testing.T) {
	m := New()
	m.Portfolio(4, 1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overdue))

	m.Portfolio(3, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.overdue))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Operation("create", ResultOK)
	m.Portfolio(2, 1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `lendbook_loan_operations_total{operation="create",result="ok"} 1`), text)
	assert.True(t, strings.Contains(text, "lendbook_loans_overdue 1"))
	assert.True(t, strings.Contains(text, "lendbook_loans_pending 2"))
}
