// Package audience turns audience filters into concrete recipient lists.
// The roster itself is owned by the school portal.
package audience

import (
	"context"
	"errors"

	"github.com/nimasrn/school-notify/internal/model"
)

var ErrNoRecipients = errors.New("audience resolved to no recipients")

type Resolver interface {
	Resolve(ctx context.Context, tenantID string, ch model.Channel, filter *model.AudienceFilter) ([]model.Recipient, error)
}

// Member is one roster entry as the portal reports it. Which address is
// used depends on the channel being dispatched.
type Member struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Role      string            `json:"role"`
	StudentID string            `json:"student_id"`
	ClassID   string            `json:"class_id"`
	Groups    []string          `json:"groups"`
	Variables map[string]string `json:"variables"`
}

func (m Member) recipient(ch model.Channel) (model.Recipient, bool) {
	addr := m.Email
	if ch == model.ChannelSMS {
		addr = m.Phone
	}
	if addr == "" {
		return model.Recipient{}, false
	}
	return model.Recipient{
		ID:        m.ID,
		Address:   addr,
		Name:      m.Name,
		StudentID: m.StudentID,
		ClassID:   m.ClassID,
		Variables: m.Variables,
	}, true
}

func (m Member) matches(f *model.AudienceFilter) bool {
	if f.Role != "" && f.Role != m.Role {
		return false
	}
	if f.StudentID != "" && f.StudentID != m.StudentID {
		return false
	}
	if len(f.ClassIDs) > 0 && !contains(f.ClassIDs, m.ClassID) {
		return false
	}
	if f.Group != "" && !contains(m.Groups, f.Group) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Static resolves against an in-memory roster keyed by tenant.
type Static struct {
	Members map[string][]Member
}

func NewStatic(members map[string][]Member) *Static {
	return &Static{Members: members}
}

func (s *Static) Resolve(_ context.Context, tenantID string, ch model.Channel, filter *model.AudienceFilter) ([]model.Recipient, error) {
	var out []model.Recipient
	for _, m := range s.Members[tenantID] {
		if filter != nil && !m.matches(filter) {
			continue
		}
		if r, ok := m.recipient(ch); ok {
			out = append(out, r)
		}
	}
	return out, nil
}
