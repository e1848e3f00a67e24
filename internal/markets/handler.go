package markets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/platform/httpx"
)

// maxImportBytes caps uploaded workbooks.
const maxImportBytes = 10 << 20

type marketService interface {
	CreateProject(ctx context.Context, in CreateProjectInput) (Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	UpdateSettings(ctx context.Context, projectID int64, settings billing.ProjectBillingSettings) (Project, error)
	AddLot(ctx context.Context, projectID int64, in CreateLotInput) (Lot, error)
	AddArticle(ctx context.Context, lotID int64, in CreateArticleInput) (Article, error)
	AddTask(ctx context.Context, articleID int64, in CreateTaskInput) (Task, error)
	AddSubtask(ctx context.Context, taskID int64, in CreateSubtaskInput) (Subtask, error)
	UpdateSubtask(ctx context.Context, id int64, in UpdateSubtaskInput) (Subtask, error)
	ArticleTree(ctx context.Context, projectID int64) ([]Article, error)
	Progress(ctx context.Context, projectID int64) (ProjectProgress, error)
	ImportWorkbook(ctx context.Context, projectID int64, r io.Reader) (ImportResult, error)
}

// Handler exposes the market structure as JSON endpoints.
type Handler struct {
	logger  *slog.Logger
	service marketService
}

// NewHandler constructs the markets handler.
func NewHandler(logger *slog.Logger, service marketService) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var in CreateProjectInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	project, err := h.service.CreateProject(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, project)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	project, err := h.service.GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var settings billing.ProjectBillingSettings
	if err := httpx.DecodeAndValidate(r, &settings); err != nil {
		h.fail(w, r, err)
		return
	}
	project, err := h.service.UpdateSettings(r.Context(), id, settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) addLot(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateLotInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	lot, err := h.service.AddLot(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) addArticle(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "lotID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateArticleInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	article, err := h.service.AddArticle(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, article)
}

func (h *Handler) addTask(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "articleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateTaskInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.service.AddTask(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, task)
}

func (h *Handler) addSubtask(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "taskID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in CreateSubtaskInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.service.AddSubtask(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) updateSubtask(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "subtaskID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateSubtaskInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.service.UpdateSubtask(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) listArticles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	articles, err := h.service.ArticleTree(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	progress, err := h.service.Progress(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}

func (h *Handler) importWorkbook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	result, err := h.service.ImportWorkbook(r.Context(), id, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) importTemplate(w http.ResponseWriter, r *http.Request) {
	f, err := ImportTemplate()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()
	httpx.Attachment(w, "market_template.xlsx")
	if err := f.Write(w); err != nil {
		h.logger.Error("write import template", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Error("markets request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
