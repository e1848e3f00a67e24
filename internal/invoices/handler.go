package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xuri/excelize/v2"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
	"github.com/chantier-erp/chantier/internal/shared"
)

// IdempotencyHeader names the optional request key of generate calls.
const IdempotencyHeader = "Idempotency-Key"

type invoiceService interface {
	Generate(ctx context.Context, projectID int64, in GenerateInput, idempotencyKey string) (Invoice, error)
	Preview(ctx context.Context, projectID int64) (Preview, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, projectID int64, filters ListFilters) ([]Invoice, shared.Pagination, error)
	UpdateItems(ctx context.Context, id int64, in UpdateItemsInput) (Invoice, error)
	Validate(ctx context.Context, id int64) (Invoice, error)
	Account(ctx context.Context, id int64) (Invoice, error)
	Workbook(ctx context.Context, id int64) (*excelize.File, Invoice, error)
}

// Handler exposes invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service invoiceService
}

// NewHandler constructs the invoices handler.
func NewHandler(logger *slog.Logger, service invoiceService) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in GenerateInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	inv, err := h.service.Generate(r.Context(), projectID, in, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/invoices/%d", inv.ID))
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preview, err := h.service.Preview(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, perPage := shared.PageFromRequest(r)
	filters := ListFilters{Status: r.URL.Query().Get("status"), Page: page, PerPage: perPage}
	list, pagination, err := h.service.List(r.Context(), projectID, filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": list, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) updateItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateItemsInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.UpdateItems(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Validate)
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Account)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (Invoice, error)) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := op(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "invoiceID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, inv, err := h.service.Workbook(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()
	httpx.Attachment(w, sanitizeFileName(inv.Number)+".xlsx")
	if err := f.Write(w); err != nil {
		h.logger.Error("write invoice workbook", slog.Int64("invoice_id", id), slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, billing.ErrInvalidStatus) {
		err = errors.Join(httpx.ErrConflict, err)
	}
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrConflict) {
		h.logger.Error("invoices request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
