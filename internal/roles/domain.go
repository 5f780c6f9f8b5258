package roles

import "github.com/caseflow/caseflow/internal/authz"

// Option is a role offered in user forms.
type Option struct {
	ID        int64          `json:"id"`
	Name      authz.RoleName `json:"name"`
	Label     string         `json:"label"`
	Hierarchy int            `json:"hierarchy"`
}

func toOption(r authz.Role) Option {
	return Option{ID: r.ID, Name: r.Name, Label: r.Name.DisplayName(), Hierarchy: r.Hierarchy}
}
