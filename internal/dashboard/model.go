// Package dashboard assembles the start page panels of a signed-in user.
package dashboard

import (
	"time"

	"github.com/caseflow/caseflow/internal/activity"
)

// Panel names a dashboard section. The values are stored in user_filter_setting.panel.
type Panel string

const (
	PanelUnassignedClients Panel = "unassigned_clients"
	PanelMyClients         Panel = "my_clients"
	PanelRecentlyAssigned  Panel = "recently_assigned"
	PanelRecentNotes       Panel = "recent_notes"
	PanelUserActivity      Panel = "user_activity"
)

// Panels lists every panel in display order.
var Panels = []Panel{PanelUnassignedClients, PanelMyClients, PanelRecentlyAssigned, PanelRecentNotes, PanelUserActivity}

var panelLabels = map[Panel]string{
	PanelUnassignedClients: "Unassigned clients",
	PanelMyClients:         "My clients",
	PanelRecentlyAssigned:  "Recently assigned",
	PanelRecentNotes:       "Recent notes",
	PanelUserActivity:      "User activity",
}

// Label is the panel heading.
func (p Panel) Label() string {
	return panelLabels[p]
}

// Valid reports whether p is a known panel.
func (p Panel) Valid() bool {
	_, ok := panelLabels[p]
	return ok
}

// PanelState is a panel as configured for one user. Unavailable panels are never loaded.
type PanelState struct {
	Panel     Panel  `json:"panel"`
	Label     string `json:"label"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
}

type ClientItem struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	OwnerName  string     `json:"owner_name,omitempty"`
	StatusName string     `json:"status_name,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type NoteItem struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	ClientName string    `json:"client_name"`
	AuthorName string    `json:"author_name"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dashboard is the loaded start page. Slices of disabled panels stay nil.
type Dashboard struct {
	Panels            []PanelState    `json:"panels"`
	UnassignedClients []ClientItem    `json:"unassigned_clients,omitempty"`
	MyClients         []ClientItem    `json:"my_clients,omitempty"`
	RecentlyAssigned  []ClientItem    `json:"recently_assigned,omitempty"`
	RecentNotes       []NoteItem      `json:"recent_notes,omitempty"`
	UserActivity      []activity.Item `json:"user_activity,omitempty"`
}

// Enabled reports whether the panel is shown.
func (d Dashboard) Enabled(p Panel) bool {
	for _, s := range d.Panels {
		if s.Panel == p {
			return s.Enabled && s.Available
		}
	}
	return false
}
