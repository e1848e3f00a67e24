package subcontracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
)

type subcontractService interface {
	CreateSubcontract(ctx context.Context, projectID int64, in CreateSubcontractInput) (Subcontract, error)
	Get(ctx context.Context, id int64) (Subcontract, error)
	AddItem(ctx context.Context, subcontractID int64, in CreateItemInput) (Item, error)
	CreateBill(ctx context.Context, subcontractID int64, in CreateBillInput, idempotencyKey string) (Bill, error)
	ListBills(ctx context.Context, subcontractID int64) ([]Bill, error)
	GetBill(ctx context.Context, id int64) (Bill, error)
	UpdateLines(ctx context.Context, id int64, in UpdateLinesInput) (Bill, error)
	ValidateBill(ctx context.Context, id int64) (Bill, error)
	PayBill(ctx context.Context, id int64) (Bill, error)
}

// Handler exposes subcontract endpoints.
type Handler struct {
	logger  *slog.Logger
	service subcontractService
}

// NewHandler constructs the subcontracts handler.
func NewHandler(logger *slog.Logger, service subcontractService) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateSubcontractInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	sc, err := h.service.CreateSubcontract(r.Context(), projectID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sc)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subcontractID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sc)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subcontractID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateItemInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	it, err := h.service.AddItem(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, it)
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subcontractID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateBillInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	bill, err := h.service.CreateBill(r.Context(), id, in, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/bills/%d", bill.ID))
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subcontractID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bills, err := h.service.ListBills(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	h.billOp(w, r, h.service.GetBill)
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateLinesInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	bill, err := h.service.UpdateLines(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) validateBill(w http.ResponseWriter, r *http.Request) {
	h.billOp(w, r, h.service.ValidateBill)
}

func (h *Handler) payBill(w http.ResponseWriter, r *http.Request) {
	h.billOp(w, r, h.service.PayBill)
}

func (h *Handler) billOp(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (Bill, error)) {
	id, err := httpx.IDParam(r, "billID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bill, err := op(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, billing.ErrInvalidStatus) {
		err = errors.Join(httpx.ErrConflict, err)
	}
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrConflict) {
		h.logger.Error("subcontracts request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
