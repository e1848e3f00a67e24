package subcontracts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/chantier-erp/chantier/internal/billing"
)

type stubService struct {
	subcontractService

	bill  CreateBillInput
	lines UpdateLinesInput
	key   string
	err   error
}

func (s *stubService) UpdateLines(ctx context.Context, id int64, in UpdateLinesInput) (Bill, error) {
	s.lines = in
	return Bill{ID: id, Status: billing.StatusDraft}, s.err
}

func (s *stubService) CreateBill(ctx context.Context, subcontractID int64, in CreateBillInput, key string) (Bill, error) {
	s.bill = in
	s.key = key
	return Bill{ID: 4, SubcontractID: subcontractID}, s.err
}

func (s *stubService) PayBill(ctx context.Context, id int64) (Bill, error) {
	if s.err != nil {
		return Bill{}, s.err
	}
	return Bill{ID: id, Status: billing.StatusPaid}, nil
}

func newTestRouter(svc subcontractService) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestCreateBillHandler(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	body := `{"date":"2026-04-30","lines":[{"item_id":3,"mode":"cumulative","percentage":55}]}`
	req := httptest.NewRequest(http.MethodPost, "/subcontracts/2/bills", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "bill-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "bill-1", svc.key)
	require.Equal(t, []LineInput{{ItemID: 3, Mode: billing.EntryModeCumulative, Percentage: 55}}, svc.bill.Lines)
	require.Equal(t, "/api/bills/4", rr.Header().Get("Location"))
}

func TestCreateBillHandlerRejectsUnknownMode(t *testing.T) {
	router := newTestRouter(&stubService{})

	body := `{"lines":[{"item_id":3,"mode":"weekly","percentage":55}]}`
	req := httptest.NewRequest(http.MethodPost, "/subcontracts/2/bills", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateLinesHandler(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	body := `{"lines":[{"item_id":3,"mode":"period","percentage":12.5}]}`
	req := httptest.NewRequest(http.MethodPatch, "/bills/4/lines", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []LineInput{{ItemID: 3, Mode: billing.EntryModePeriod, Percentage: 12.5}}, svc.lines.Lines)

	req = httptest.NewRequest(http.MethodPatch, "/bills/4/lines", strings.NewReader(`{"lines":[]}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	stateErr := &billing.StateError{Entity: entityBill, ID: 4, Op: "edit lines", Current: billing.StatusValidated, Required: billing.StatusDraft}
	router = newTestRouter(&stubService{err: stateErr})
	req = httptest.NewRequest(http.MethodPatch, "/bills/4/lines", strings.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestPayBillStateError(t *testing.T) {
	stateErr := &billing.StateError{Entity: entityBill, ID: 4, Op: "move to PAID", Current: billing.StatusDraft, Required: billing.StatusValidated}
	router := newTestRouter(&stubService{err: stateErr})

	req := httptest.NewRequest(http.MethodPost, "/bills/4/pay", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
}
