package markets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chantier-erp/chantier/internal/billing"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProject(ctx context.Context, id int64) (Project, error)
	GetProjectByCode(ctx context.Context, code string) (Project, error)
	GetLot(ctx context.Context, id int64) (Lot, error)
	ListLots(ctx context.Context, projectID int64) ([]Lot, error)
	GetArticle(ctx context.Context, id int64) (Article, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	ListArticleTree(ctx context.Context, projectID int64) ([]Article, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultSettings billing.ProjectBillingSettings
}

// Service coordinates the market structure and progress entry.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	defaults billing.ProjectBillingSettings
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := cfg.DefaultSettings
	if defaults == (billing.ProjectBillingSettings{}) {
		defaults = billing.DefaultSettings()
	}
	return &Service{repo: repo, logger: logger, defaults: defaults.Normalize()}
}

// CreateProject registers a new contract.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return Project{}, fmt.Errorf("%w: code and name required", ErrInvalidInput)
	}
	settings := s.defaults
	if in.Settings != nil {
		settings = in.Settings.Normalize()
	}
	project := Project{Code: code, Name: name, ClientName: strings.TrimSpace(in.ClientName), Settings: settings}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertProject(ctx, project)
		if err != nil {
			return err
		}
		project = created
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	s.logger.Info("project created", slog.Int64("project_id", project.ID), slog.String("code", project.Code))
	return project, nil
}

// GetProject returns a project with its billing settings.
func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	return s.repo.GetProject(ctx, id)
}

// UpdateSettings replaces the billing settings of a project. Invoices already
// generated keep the values they were computed with.
func (s *Service) UpdateSettings(ctx context.Context, projectID int64, settings billing.ProjectBillingSettings) (Project, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	project.Settings = settings.Normalize()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdateProjectSettings(ctx, projectID, project.Settings)
		if err != nil {
			return err
		}
		project.UpdatedAt = updated
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// AddLot adds a lot to a project.
func (s *Service) AddLot(ctx context.Context, projectID int64, in CreateLotInput) (Lot, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return Lot{}, err
	}
	lot := Lot{ProjectID: projectID, Name: strings.TrimSpace(in.Name), Position: in.Position}
	if lot.Name == "" {
		return Lot{}, fmt.Errorf("%w: lot name required", ErrInvalidInput)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLot(ctx, lot)
		lot.ID = id
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// AddArticle adds a priced article to a lot.
func (s *Service) AddArticle(ctx context.Context, lotID int64, in CreateArticleInput) (Article, error) {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return Article{}, err
	}
	article, err := newArticle(lot, in)
	if err != nil {
		return Article{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertArticle(ctx, article)
		article.ID = id
		return err
	})
	if err != nil {
		return Article{}, err
	}
	return article, nil
}

func newArticle(lot Lot, in CreateArticleInput) (Article, error) {
	a := Article{
		ProjectID:   lot.ProjectID,
		LotID:       lot.ID,
		Code:        strings.TrimSpace(in.Code),
		Designation: strings.TrimSpace(in.Designation),
		Unit:        strings.TrimSpace(in.Unit),
		Quantity:    billing.Sanitize(in.Quantity),
		UnitPrice:   billing.Sanitize(in.UnitPrice),
		Position:    in.Position,
	}
	if a.Code == "" || a.Designation == "" {
		return Article{}, fmt.Errorf("%w: article code and designation required", ErrInvalidInput)
	}
	return a, nil
}

// AddTask adds a task to an article.
func (s *Service) AddTask(ctx context.Context, articleID int64, in CreateTaskInput) (Task, error) {
	if _, err := s.repo.GetArticle(ctx, articleID); err != nil {
		return Task{}, err
	}
	task := Task{ArticleID: articleID, Name: strings.TrimSpace(in.Name), DurationDays: in.DurationDays, Position: in.Position}
	if task.Name == "" {
		return Task{}, fmt.Errorf("%w: task name required", ErrInvalidInput)
	}
	if task.DurationDays < 0 {
		task.DurationDays = 0
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTask(ctx, task)
		task.ID = id
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// AddSubtask adds a subtask to a task. Completion is clamped to [0,100].
func (s *Service) AddSubtask(ctx context.Context, taskID int64, in CreateSubtaskInput) (Subtask, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return Subtask{}, err
	}
	st := Subtask{
		TaskID:               taskID,
		Name:                 strings.TrimSpace(in.Name),
		CompletionPercentage: billing.ClampPercent(in.CompletionPercentage),
		IsReserve:            in.IsReserve,
	}
	if st.Name == "" {
		return Subtask{}, fmt.Errorf("%w: subtask name required", ErrInvalidInput)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.InsertSubtask(ctx, st)
		st = created
		return err
	})
	if err != nil {
		return Subtask{}, err
	}
	return st, nil
}

// UpdateSubtask records a progress entry. The last write wins.
func (s *Service) UpdateSubtask(ctx context.Context, id int64, in UpdateSubtaskInput) (Subtask, error) {
	var result Subtask
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetSubtaskForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: subtask name required", ErrInvalidInput)
			}
			st.Name = name
		}
		if in.CompletionPercentage != nil {
			st.CompletionPercentage = billing.ClampPercent(*in.CompletionPercentage)
		}
		if in.IsReserve != nil {
			st.IsReserve = *in.IsReserve
		}
		updated, err := tx.UpdateSubtask(ctx, st)
		if err != nil {
			return err
		}
		st.UpdatedAt = updated
		result = st
		return nil
	})
	if err != nil {
		return Subtask{}, err
	}
	return result, nil
}

// GetArticle returns an article without its task tree.
func (s *Service) GetArticle(ctx context.Context, id int64) (Article, error) {
	return s.repo.GetArticle(ctx, id)
}

// ArticleTree returns the project's articles with tasks and subtasks.
func (s *Service) ArticleTree(ctx context.Context, projectID int64) ([]Article, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListArticleTree(ctx, projectID)
}

// Progress recomputes article and project progress from the current tree.
func (s *Service) Progress(ctx context.Context, projectID int64) (ProjectProgress, error) {
	articles, err := s.ArticleTree(ctx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	out := ProjectProgress{ProjectID: projectID, Articles: make([]ArticleProgress, 0, len(articles))}
	for _, a := range articles {
		ap := a.Progress()
		out.Articles = append(out.Articles, ap)
		out.ContractAmount += a.ContractAmount()
		out.ProgressAmount += a.ContractAmount() * ap.ProgressPercentage / 100
	}
	if out.ContractAmount > 0 {
		out.OverallPercentage = billing.Round(out.ProgressAmount/out.ContractAmount*100, 2)
	}
	return out, nil
}

// BillingInputs converts the current tree into snapshot builder input.
func (s *Service) BillingInputs(ctx context.Context, projectID int64) ([]billing.ArticleInput, error) {
	articles, err := s.ArticleTree(ctx, projectID)
	if err != nil {
		return nil, err
	}
	inputs := make([]billing.ArticleInput, 0, len(articles))
	for _, a := range articles {
		inputs = append(inputs, billing.ArticleInput{
			ArticleID:          a.ID,
			Quantity:           a.Quantity,
			UnitPrice:          a.UnitPrice,
			ProgressPercentage: a.Progress().ProgressPercentage,
		})
	}
	return inputs, nil
}
