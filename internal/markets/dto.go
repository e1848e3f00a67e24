package markets

import "github.com/chantier-erp/chantier/internal/billing"

// CreateProjectInput creates a project. Settings default from configuration.
type CreateProjectInput struct {
	Code       string                          `json:"code" validate:"required,max=32"`
	Name       string                          `json:"name" validate:"required,max=200"`
	ClientName string                          `json:"client_name" validate:"max=200"`
	Settings   *billing.ProjectBillingSettings `json:"settings"`
}

// CreateLotInput adds a lot to a project.
type CreateLotInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Position int    `json:"position" validate:"gte=0"`
}

// CreateArticleInput adds an article to a lot.
type CreateArticleInput struct {
	Code        string  `json:"code" validate:"required,max=32"`
	Designation string  `json:"designation" validate:"required"`
	Unit        string  `json:"unit" validate:"max=16"`
	Quantity    float64 `json:"quantity" validate:"gte=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	Position    int     `json:"position" validate:"gte=0"`
}

// CreateTaskInput adds a task to an article.
type CreateTaskInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	DurationDays int    `json:"duration_days" validate:"gte=0"`
	Position     int    `json:"position" validate:"gte=0"`
}

// CreateSubtaskInput adds a subtask to a task.
type CreateSubtaskInput struct {
	Name                 string  `json:"name" validate:"required,max=200"`
	CompletionPercentage float64 `json:"completion_percentage"`
	IsReserve            bool    `json:"is_reserve"`
}

// UpdateSubtaskInput is a progress entry. Nil fields are left unchanged.
type UpdateSubtaskInput struct {
	Name                 *string  `json:"name" validate:"omitempty,max=200"`
	CompletionPercentage *float64 `json:"completion_percentage"`
	IsReserve            *bool    `json:"is_reserve"`
}

// ImportResult summarises a workbook import.
type ImportResult struct {
	LotsCreated     int              `json:"lots_created"`
	ArticlesCreated int              `json:"articles_created"`
	Failed          int              `json:"failed"`
	Errors          []ImportRowError `json:"errors,omitempty"`
}

// ImportRowError reports why a workbook row was rejected.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}
