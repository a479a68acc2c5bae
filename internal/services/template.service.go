package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/render"
	"github.com/nimasrn/school-notify/internal/repository"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *model.Template) (*model.Template, error)
	Update(ctx context.Context, t *model.Template) (*model.Template, error)
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Template, error)
	GetActive(ctx context.Context, tenantID string, id int64) (*model.Template, error)
	List(ctx context.Context, tenantID string, channel *model.Channel) ([]*model.Template, error)
	IncrementUsage(ctx context.Context, id int64) error
}

type TemplateService struct {
	repo     TemplateRepository
	calendar Calendar
}

func NewTemplateService(repo TemplateRepository, calendar Calendar) *TemplateService {
	return &TemplateService{repo: repo, calendar: calendar}
}

// Save creates or updates a template. The declared variables are always
// recomputed from subject and body; whatever the caller had is discarded.
func (s *TemplateService) Save(ctx context.Context, req model.TemplateSaveRequest) (*model.Template, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.calendar.NowUTC()
	t := &model.Template{
		ID:        req.ID,
		TenantID:  req.TenantID,
		Name:      req.Name,
		Channel:   req.Channel,
		Category:  req.Category,
		Subject:   req.Subject,
		Body:      req.Body,
		Variables: render.ForChannel(req.Channel).Placeholders(req.Subject, req.Body),
		IsActive:  req.IsActive,
		UpdatedAt: now,
	}

	if t.ID == 0 {
		t.CreatedAt = now
		return s.repo.Create(ctx, t)
	}
	saved, err := s.repo.Update(ctx, t)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, ErrTemplateUnavailable
	}
	return saved, err
}

func (s *TemplateService) Get(ctx context.Context, tenantID string, id int64) (*model.Template, error) {
	t, err := s.repo.GetByID(ctx, tenantID, id)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, ErrTemplateUnavailable
	}
	return t, err
}

func (s *TemplateService) List(ctx context.Context, tenantID string, ch *model.Channel) ([]*model.Template, error) {
	return s.repo.List(ctx, tenantID, ch)
}
