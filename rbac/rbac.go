// Package rbac evaluates role permissions against a live policy source.
//
// Role definitions are looked up on every call. There is deliberately no
// cache: removing a permission from the policy revokes it on the next
// request.
package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownRole      = errors.New("unknown role")
	ErrPermissionDenied = errors.New("permission denied")
)

type Role struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Has reports whether the role grants perm.
func (r Role) Has(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Source resolves a role name to its current definition.
// ok is false when the role is not defined.
type Source interface {
	Role(name string) (role Role, ok bool, err error)
}

// UnknownRoleError reports a role that the policy no longer defines,
// typically renamed or removed after the caller's credentials were issued.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("role %q is not defined in the current system configuration", e.Role)
}

func (e *UnknownRoleError) Is(target error) bool { return target == ErrUnknownRole }

// PermissionDeniedError lists every required permission the role lacks.
type PermissionDeniedError struct {
	Role        string
	DisplayName string
	Required    []string
	Missing     []string
	Granted     []string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions: role %q is missing %s", e.Role, strings.Join(e.Missing, ", "))
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

type Evaluator struct {
	source Source
}

func NewEvaluator(source Source) *Evaluator {
	return &Evaluator{source: source}
}

// Authorize returns nil when role grants every permission in required.
func (ev *Evaluator) Authorize(role string, required ...string) error {
	r, err := ev.lookup(role)
	if err != nil {
		return err
	}

	var missing []string
	for _, p := range required {
		if !r.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return &PermissionDeniedError{
			Role:        r.Name,
			DisplayName: r.DisplayName,
			Required:    append([]string(nil), required...),
			Missing:     missing,
			Granted:     append([]string(nil), r.Permissions...),
		}
	}
	return nil
}

// Permissions returns the permissions currently granted to role.
func (ev *Evaluator) Permissions(role string) (Role, error) {
	return ev.lookup(role)
}

func (ev *Evaluator) lookup(role string) (Role, error) {
	r, ok, err := ev.source.Role(role)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: reading role %q: %w", role, err)
	}
	if !ok {
		return Role{}, &UnknownRoleError{Role: role}
	}
	return r, nil
}

// Roles is an in-memory Source, mainly for tests and embedding.
type Roles []Role

func (rs Roles) Role(name string) (Role, bool, error) {
	for _, r := range rs {
		if r.Name == name {
			return r, true, nil
		}
	}
	return Role{}, false, nil
}
