// Package notes manages the case notes attached to clients.
package notes

import (
	"time"

	"github.com/caseflow/caseflow/internal/authz"
)

// ColumnHidden and ColumnMain are the note columns with their own rules.
const (
	ColumnHidden = "hidden"
	ColumnMain   = "is_main"
)

type Note struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	UserID     int64     `json:"user_id"`
	AuthorName string    `json:"author_name"`
	Message    string    `json:"message"`
	IsMain     bool      `json:"is_main"`
	Hidden     bool      `json:"hidden"`
	Masked     bool      `json:"masked,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Resource is the note as authorization subject, owned by its author.
func (n Note) Resource() authz.Resource {
	return authz.OwnedBy(authz.KindNote, n.ID, n.UserID)
}

// View is a note as shown to one caller.
type View struct {
	Note
	Privilege authz.Privilege `json:"privilege"`
}

type CreateNoteRequest struct {
	Message string `json:"message" validate:"required,max=10000"`
	Hidden  bool   `json:"hidden"`
}

type UpdateNoteRequest struct {
	Message *string `json:"message,omitempty" validate:"omitempty,min=1,max=10000"`
	Hidden  *bool   `json:"hidden,omitempty"`
}

type MainNoteRequest struct {
	Message string `json:"message" validate:"required,max=10000"`
}
