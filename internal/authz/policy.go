package authz

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OwnerPolicy controls whether owning a resource grants a capability.
type OwnerPolicy int

const (
	// OwnerDefault grants owners Read and Update, never Create or Delete.
	OwnerDefault OwnerPolicy = iota
	// OwnerAllowed grants owners the capability whatever the action.
	OwnerAllowed
	// OwnerIgnored leaves the decision to the hierarchy alone.
	OwnerIgnored
)

var ownerPolicyNames = map[OwnerPolicy]string{
	OwnerDefault: "default",
	OwnerAllowed: "allowed",
	OwnerIgnored: "ignored",
}

func (o OwnerPolicy) String() string {
	return ownerPolicyNames[o]
}

func parseOwnerPolicy(s string) (OwnerPolicy, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OwnerDefault, true
	}
	for policy, name := range ownerPolicyNames {
		if name == s {
			return policy, true
		}
	}
	return 0, false
}

func (o OwnerPolicy) grants(action Action) bool {
	switch o {
	case OwnerAllowed:
		return true
	case OwnerDefault:
		return action == ActionRead || action == ActionUpdate
	}
	return false
}

// Rule is the minimum role required for a capability plus the ownership policy.
type Rule struct {
	Required RoleName
	Owner    OwnerPolicy
}

// Policy holds the rules of one resource kind.
type Policy map[Capability]Rule

// rule finds the exact column rule, falling back to the general rule of the action.
func (p Policy) rule(c Capability) (Rule, bool) {
	if r, ok := p[c]; ok {
		return r, true
	}
	if c.Column != "" {
		r, ok := p[Capability{Action: c.Action}]
		return r, ok
	}
	return Rule{}, false
}

// Policies maps resource kinds to their policy.
type Policies map[ResourceKind]Policy

// Clone returns a deep copy.
func (p Policies) Clone() Policies {
	out := make(Policies, len(p))
	for kind, policy := range p {
		cp := make(Policy, len(policy))
		for c, r := range policy {
			cp[c] = r
		}
		out[kind] = cp
	}
	return out
}

// Validate checks that every rule names a catalogued role.
func (p Policies) Validate(catalog *RoleCatalog) error {
	for kind, policy := range p {
		for c, r := range policy {
			if _, ok := catalog.Lookup(r.Required); !ok {
				return &ConfigurationError{Kind: kind, Capability: c, Role: r.Required, Reason: "rule requires unknown role"}
			}
		}
	}
	return nil
}

// DefaultPolicies returns the built-in rules of the case-management screens.
func DefaultPolicies() Policies {
	return Policies{
		KindClient: {
			Can(ActionRead):                             {Required: RoleNewcomer},
			CanColumn(ActionRead, "deleted_at"):         {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			Can(ActionCreate):                           {Required: RoleAdvisor, Owner: OwnerAllowed},
			Can(ActionUpdate):                           {Required: RoleManagingAdvisor},
			CanColumn(ActionUpdate, "client_status_id"): {Required: RoleManagingAdvisor},
			CanColumn(ActionUpdate, "user_id"):          {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			CanColumn(ActionUpdate, "deleted_at"):       {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			Can(ActionDelete):                           {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
		},
		KindNote: {
			Can(ActionRead):                    {Required: RoleNewcomer},
			CanColumn(ActionRead, "hidden"):    {Required: RoleManagingAdvisor},
			Can(ActionCreate):                  {Required: RoleNewcomer, Owner: OwnerAllowed},
			Can(ActionUpdate):                  {Required: RoleManagingAdvisor},
			CanColumn(ActionUpdate, "is_main"): {Required: RoleAdvisor},
			Can(ActionDelete):                  {Required: RoleManagingAdvisor, Owner: OwnerAllowed},
		},
		KindUser: {
			Can(ActionRead):                         {Required: RoleManagingAdvisor},
			Can(ActionCreate):                       {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			Can(ActionUpdate):                       {Required: RoleManagingAdvisor},
			CanColumn(ActionUpdate, "user_role_id"): {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			CanColumn(ActionUpdate, "status"):       {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			Can(ActionDelete):                       {Required: RoleManagingAdvisor, Owner: OwnerAllowed},
		},
		KindDashboard: {
			Can(ActionRead):                        {Required: RoleNewcomer},
			CanColumn(ActionRead, "user_activity"): {Required: RoleManagingAdvisor, Owner: OwnerIgnored},
			Can(ActionUpdate):                      {Required: RoleAdmin},
		},
	}
}

type policyFile struct {
	Policies map[string][]ruleYAML `yaml:"policies"`
}

type ruleYAML struct {
	Action   string `yaml:"action"`
	Column   string `yaml:"column"`
	Required string `yaml:"required"`
	Owner    string `yaml:"owner"`
}

// LoadPolicyFile applies the overrides declared in a YAML file on top of base.
//
//	policies:
//	  note:
//	    - action: delete
//	      required: managing_advisor
//	      owner: ignored
func LoadPolicyFile(path string, base Policies) (Policies, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authz: read policy file: %w", err)
	}
	return ParsePolicies(raw, base)
}

// ParsePolicies applies YAML encoded overrides on top of base.
func ParsePolicies(raw []byte, base Policies) (Policies, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("authz: parse policy file: %w", err)
	}
	out := base.Clone()
	if out == nil {
		out = Policies{}
	}
	for kindName, rules := range file.Policies {
		kind := ResourceKind(strings.TrimSpace(kindName))
		policy, ok := out[kind]
		if !ok {
			policy = Policy{}
			out[kind] = policy
		}
		for _, r := range rules {
			action, ok := ParseAction(r.Action)
			if !ok {
				return nil, &ConfigurationError{Kind: kind, Reason: fmt.Sprintf("unknown action %q", r.Action)}
			}
			owner, ok := parseOwnerPolicy(r.Owner)
			if !ok {
				return nil, &ConfigurationError{Kind: kind, Capability: CanColumn(action, r.Column), Reason: fmt.Sprintf("unknown owner policy %q", r.Owner)}
			}
			if strings.TrimSpace(r.Required) == "" {
				return nil, &ConfigurationError{Kind: kind, Capability: CanColumn(action, r.Column), Reason: "rule without required role"}
			}
			policy[CanColumn(action, strings.TrimSpace(r.Column))] = Rule{Required: RoleName(strings.TrimSpace(r.Required)), Owner: owner}
		}
	}
	return out, nil
}
