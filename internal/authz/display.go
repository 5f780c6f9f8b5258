package authz

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var roleDisplayNames = map[RoleName]string{
	RoleAdmin:           "Admin",
	RoleManagingAdvisor: "Managing advisor",
	RoleAdvisor:         "Advisor",
	RoleNewcomer:        "Newcomer",
}

// DisplayName renders a role for humans. Roles added to the table after deployment fall back
// to a title-cased version of their identifier.
func (r RoleName) DisplayName() string {
	if name, ok := roleDisplayNames[r]; ok {
		return name
	}
	words := strings.Fields(strings.ReplaceAll(string(r), "_", " "))
	if len(words) == 0 {
		return ""
	}
	words[0] = cases.Title(language.English).String(words[0])
	return strings.Join(words, " ")
}
