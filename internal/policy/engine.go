package policy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"nickel_agent/internal/domain"
)

// DefaultRules let every actor read the data root and confine writes to the
// ledgers and the drafts directory.
func DefaultRules() []domain.FileRule {
	return []domain.FileRule{
		{Actor: "*", Effect: domain.PermissionEffectAllow, Operation: domain.FileOperationRead, PathPattern: "**"},
		{Actor: "*", Effect: domain.PermissionEffectAllow, Operation: "*", PathPattern: "inventory/**"},
		{Actor: "*", Effect: domain.PermissionEffectAllow, Operation: "*", PathPattern: "quality/**"},
		{Actor: "*", Effect: domain.PermissionEffectAllow, Operation: "*", PathPattern: "drafts/**"},
	}
}

type Engine struct {
	rules []domain.FileRule
}

func New(rules []domain.FileRule) (*Engine, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for i, r := range rules {
		if r.Effect != domain.PermissionEffectAllow && r.Effect != domain.PermissionEffectDeny {
			return nil, fmt.Errorf("rule %d: unknown effect %q", i, r.Effect)
		}
		if strings.TrimSpace(r.PathPattern) == "" {
			return nil, fmt.Errorf("rule %d: path pattern is required", i)
		}
		if _, err := path.Match(normalizeRelPath(r.PathPattern), ""); err != nil && !strings.HasSuffix(r.PathPattern, "/**") {
			return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, r.PathPattern, err)
		}
	}
	return &Engine{rules: append([]domain.FileRule(nil), rules...)}, nil
}

// CanFileOperation applies deny-over-allow with a default deny.
func (e *Engine) CanFileOperation(
	_ context.Context,
	actor string,
	operation domain.FileOperation,
	targetPath string,
) (bool, string, error) {
	target := normalizeRelPath(targetPath)
	var allowMatch bool
	for _, r := range e.rules {
		if r.Actor != "*" && r.Actor != actor {
			continue
		}
		if r.Operation != "*" && !operationCovers(r.Operation, operation) {
			continue
		}
		if !globMatch(r.PathPattern, target) {
			continue
		}
		if r.Effect == domain.PermissionEffectDeny {
			return false, "denied by explicit deny rule", nil
		}
		allowMatch = true
	}
	if allowMatch {
		return true, "allowed", nil
	}
	return false, "default deny (no matching allow rule)", nil
}

// a write grant also covers creating the file.
func operationCovers(granted, requested domain.FileOperation) bool {
	if granted == requested {
		return true
	}
	return granted == domain.FileOperationWrite && requested == domain.FileOperationCreate
}

func normalizeRelPath(p string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}

func globMatch(pattern string, value string) bool {
	p := normalizeRelPath(pattern)
	v := normalizeRelPath(value)
	if p == "**" || p == "*" {
		return true
	}
	if strings.HasSuffix(p, "/**") {
		base := strings.TrimSuffix(p, "/**")
		return v == base || strings.HasPrefix(v, base+"/")
	}
	ok, err := path.Match(p, v)
	if err != nil {
		return false
	}
	return ok
}
