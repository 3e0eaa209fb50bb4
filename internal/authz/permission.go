package authz

import (
	"fmt"
	"strings"
)

// Resource identifies the protected surface a permission applies to
type Resource string

const (
	ResourceDataExplorer Resource = "data-explorer"
)

// Action identifies what the caller wants to do with a resource
type Action string

const (
	ActionQuery         Action = "query"
	ActionExecute       Action = "execute"
	ActionMetadataRead  Action = "metadata:read"
	ActionMetadataWrite Action = "metadata:write"
	ActionDiscoveryRun  Action = "discovery:run"
)

// Scope bounds a permission to the caller's organization or to everything
type Scope string

const (
	ScopeOrganization Scope = "organization"
	ScopeAll          Scope = "all"
)

// Permission is the parsed form of a resource:action[:scope] token.
// Tokens are parsed once at the edge; internally only the typed form
// is compared.
type Permission struct {
	Resource Resource
	Action   Action
	Scope    Scope
}

// String returns the canonical token form
func (p Permission) String() string {
	if p.Scope == "" {
		return fmt.Sprintf("%s:%s", p.Resource, p.Action)
	}
	return fmt.Sprintf("%s:%s:%s", p.Resource, p.Action, p.Scope)
}

// Well-known permissions recognized by the pipeline
var (
	PermQueryOrganization   = Permission{ResourceDataExplorer, ActionQuery, ScopeOrganization}
	PermQueryAll            = Permission{ResourceDataExplorer, ActionQuery, ScopeAll}
	PermExecuteOrganization = Permission{ResourceDataExplorer, ActionExecute, ScopeOrganization}
	PermExecuteAll          = Permission{ResourceDataExplorer, ActionExecute, ScopeAll}
	PermMetadataReadOrg     = Permission{ResourceDataExplorer, ActionMetadataRead, ScopeOrganization}
	PermMetadataReadAll     = Permission{ResourceDataExplorer, ActionMetadataRead, ScopeAll}
	PermMetadataWriteOrg    = Permission{ResourceDataExplorer, ActionMetadataWrite, ScopeOrganization}
	PermMetadataWriteAll    = Permission{ResourceDataExplorer, ActionMetadataWrite, ScopeAll}
	PermDiscoveryRunAll     = Permission{ResourceDataExplorer, ActionDiscoveryRun, ScopeAll}
)

var knownActions = map[Action]bool{
	ActionQuery:         true,
	ActionExecute:       true,
	ActionMetadataRead:  true,
	ActionMetadataWrite: true,
	ActionDiscoveryRun:  true,
}

var knownScopes = map[Scope]bool{
	ScopeOrganization: true,
	ScopeAll:          true,
}

// ParsePermission parses a resource:action[:scope] token into its typed form.
// Multi-segment actions (metadata:read, discovery:run) are recognized by
// longest match, so "data-explorer:metadata:read:all" parses as
// {data-explorer, metadata:read, all}.
func ParsePermission(token string) (Permission, error) {
	parts := strings.Split(token, ":")
	if len(parts) < 2 {
		return Permission{}, fmt.Errorf("malformed permission token: %q", token)
	}

	resource := Resource(parts[0])
	if resource != ResourceDataExplorer {
		return Permission{}, fmt.Errorf("unknown permission resource: %q", parts[0])
	}

	rest := parts[1:]

	// Try the longest action match first: the trailing segment may be a scope
	if len(rest) >= 2 {
		if last := Scope(rest[len(rest)-1]); knownScopes[last] {
			action := Action(strings.Join(rest[:len(rest)-1], ":"))
			if knownActions[action] {
				return Permission{Resource: resource, Action: action, Scope: last}, nil
			}
		}
	}

	// No scope suffix: the whole remainder must be an action
	action := Action(strings.Join(rest, ":"))
	if knownActions[action] {
		return Permission{Resource: resource, Action: action}, nil
	}

	return Permission{}, fmt.Errorf("unknown permission action in token: %q", token)
}

// Satisfies reports whether a held permission covers a required one.
// An "all" scope covers an "organization" requirement for the same
// resource and action.
func (p Permission) Satisfies(required Permission) bool {
	if p.Resource != required.Resource || p.Action != required.Action {
		return false
	}
	if p.Scope == required.Scope {
		return true
	}
	return p.Scope == ScopeAll
}
