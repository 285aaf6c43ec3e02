// Package sandbox implements the Sandbox Policy (§4.4): path
// canonicalization, scope-membership checks, and the typestate-shaped
// OS-level enforcement that locks a process to a client-negotiated set of
// directories.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mode selects whether the sandbox enforces Strict directory-component
// membership or bypasses OS enforcement for test harnesses.
type Mode string

const (
	// ModeStrict is the default: OS-level enforcement is applied after the
	// scope is locked.
	ModeStrict Mode = "strict"
	// ModeTestBypass skips OS-level enforcement. Available only via an
	// explicit flag, and every activation is logged (§3 Sandbox Scope).
	ModeTestBypass Mode = "test-bypass"
)

// Scope is an immutable set of canonical absolute directory roots. A Scope
// is empty before the client negotiates roots and, once Locked, is never
// mutated again (§3).
type Scope struct {
	roots []string
}

// NewScope canonicalizes, deduplicates and verifies the given root paths are
// non-empty, returning an error if canonicalization fails for any of them or
// if the resulting set is empty.
func NewScope(canon Canonicalizer, rawRoots []string) (Scope, error) {
	seen := make(map[string]struct{}, len(rawRoots))
	var roots []string
	for _, r := range rawRoots {
		cp, err := canon.Canonicalize(r, "")
		if err != nil {
			return Scope{}, fmt.Errorf("canonicalize root %q: %w", r, err)
		}
		if _, ok := seen[cp]; ok {
			continue
		}
		seen[cp] = struct{}{}
		roots = append(roots, cp)
	}
	if len(roots) == 0 {
		return Scope{}, fmt.Errorf("sandbox scope must be non-empty")
	}
	return Scope{roots: roots}, nil
}

// Roots returns the scope's canonical root directories.
func (s Scope) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Empty reports whether the scope carries no roots.
func (s Scope) Empty() bool { return len(s.roots) == 0 }

// Contains reports whether canonical path p is within scope: p equals some
// root S, or is a descendant of S, compared component-by-component.
// Prefix-string comparison is explicitly forbidden — "/a/project-other"
// must not match scope "/a/project" (Testable Property 3).
func (s Scope) Contains(p string) bool {
	for _, root := range s.roots {
		if pathWithin(root, p) {
			return true
		}
	}
	return false
}

// pathWithin reports whether p is root or a descendant of root, comparing
// directory components rather than raw string prefixes.
func pathWithin(root, p string) bool {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if root == p {
		return true
	}
	rootParts := splitComponents(root)
	pParts := splitComponents(p)
	if len(pParts) < len(rootParts) {
		return false
	}
	for i, rc := range rootParts {
		if pParts[i] != rc {
			return false
		}
	}
	return true
}

func splitComponents(p string) []string {
	p = filepath.ToSlash(p)
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ErrOutsideScope reports a path that was rejected by a scope-membership
// check, carrying enough context to reproduce per §7 (tool name, offending
// path, active scope list are added by the caller).
type ErrOutsideScope struct {
	Path  string
	Roots []string
}

func (e *ErrOutsideScope) Error() string {
	return fmt.Sprintf("path %q is outside sandbox scope %v", e.Path, e.Roots)
}

// Validate returns an *ErrOutsideScope if canonical path p is not within s.
func (s Scope) Validate(p string) error {
	if s.Contains(p) {
		return nil
	}
	return &ErrOutsideScope{Path: p, Roots: s.Roots()}
}
