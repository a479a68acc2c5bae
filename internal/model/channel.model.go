package model

import (
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Category is the fixed message taxonomy tenants are granted permission for.
type Category string

const (
	CategoryAttendance Category = "attendance"
	CategoryFees       Category = "fees"
	CategoryExams      Category = "exams"
	CategoryGeneral    Category = "general"
	CategoryNewsletter Category = "newsletter"
	CategoryEmergency  Category = "emergency"
	CategoryEvents     Category = "events"
	CategoryHomework   Category = "homework"
	CategoryTransport  Category = "transport"
)

// Categories is ordered; the index of a category is its bit in Permissions.
var Categories = []Category{
	CategoryAttendance,
	CategoryFees,
	CategoryExams,
	CategoryGeneral,
	CategoryNewsletter,
	CategoryEmergency,
	CategoryEvents,
	CategoryHomework,
	CategoryTransport,
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Bit() == 0 {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Bit returns the permission bit for c, or 0 for an unknown category.
func (c Category) Bit() Permissions {
	for i, known := range Categories {
		if known == c {
			return 1 << uint(i)
		}
	}
	return 0
}

// Permissions is the per-tenant, per-channel set of allowed categories.
type Permissions uint32

const AllPermissions = Permissions(1<<9 - 1)

func NewPermissions(categories ...Category) Permissions {
	var p Permissions
	for _, c := range categories {
		p |= c.Bit()
	}
	return p
}

func (p Permissions) Has(c Category) bool {
	bit := c.Bit()
	return bit != 0 && p&bit == bit
}

func (p Permissions) With(c Category) Permissions    { return p | c.Bit() }
func (p Permissions) Without(c Category) Permissions { return p &^ c.Bit() }

func (p Permissions) Categories() []Category {
	var out []Category
	for _, c := range Categories {
		if p.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
