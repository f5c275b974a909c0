// Package transclude resolves {{Name}} transclusion references between
// items at render time, with cycle and missing-target protection.
package transclude

import (
	"context"
	"regexp"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

var transclusionRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Targets returns the deduplicated transclusion target names referenced
// in body, normalising "{{Target|argument}}" forms to their target.
func Targets(body string) []string {
	matches := transclusionRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := targetOf(m[1])
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func targetOf(raw string) string {
	if i := strings.Index(raw, "|"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// Source supplies the latest surviving content of a named item, as
// visible to user. Missing, deleted, and destroyed items must report
// apperr.ErrNotFound; items the user may not read, apperr.ErrForbidden.
type Source interface {
	LatestContent(ctx context.Context, user, namespace, name string) (content []byte, contentType string, err error)
}

// Resolver expands transclusions against a Source.
type Resolver struct {
	src Source
}

// NewResolver creates a resolver reading from src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// CyclicMarker is substituted when a target is already on the active
// resolution path. The cycle is reported in place, never recursed into
// and never silently dropped.
func CyclicMarker(name string) string {
	return "<<cyclic transclusion: " + name + ">>"
}

// BrokenMarker is substituted when a target does not exist, is
// deleted, has been destroyed, or is not readable by the rendering
// user. Unreadable targets render the same marker as missing ones so
// resolution neither leaks restricted content nor confirms its
// existence. A broken edge never aborts the page render.
func BrokenMarker(name string) string {
	return "<<broken transclusion: " + name + ">>"
}

// Resolve returns the item's latest content with transclusions
// substituted, as visible to user. Self-reference is a cycle of length
// one and renders the cyclic marker like any longer cycle.
func (r *Resolver) Resolve(ctx context.Context, user, namespace, name string) (string, error) {
	content, contentType, err := r.src.LatestContent(ctx, user, namespace, name)
	if err != nil {
		return "", err
	}
	if FormatterFor(contentType).Kind != FormatInline {
		return string(content), nil
	}
	path := map[string]struct{}{name: {}}
	return r.expand(ctx, user, namespace, string(content), path), nil
}

// expand substitutes every transclusion in body. path holds the names
// currently being resolved on this branch; hitting one again is a cycle.
func (r *Resolver) expand(ctx context.Context, user, namespace, body string, path map[string]struct{}) string {
	return transclusionRe.ReplaceAllStringFunc(body, func(match string) string {
		target := targetOf(transclusionRe.FindStringSubmatch(match)[1])
		if target == "" {
			return match
		}
		if _, onPath := path[target]; onPath {
			return CyclicMarker(target)
		}
		content, contentType, err := r.src.LatestContent(ctx, user, namespace, target)
		if err != nil {
			return BrokenMarker(target)
		}
		f := FormatterFor(contentType)
		if f.Kind != FormatInline {
			return f.Render(target, content)
		}
		path[target] = struct{}{}
		expanded := r.expand(ctx, user, namespace, f.Render(target, content), path)
		delete(path, target)
		return expanded
	})
}

// Edges computes the transclusion edges of an item for overlay
// rendering: one edge per distinct target in the latest content, with
// existence and cycle flags. Cyclic means following the edge would lead
// back to the source item. Targets the user may not read report
// Exists=false, indistinguishable from missing ones.
func (r *Resolver) Edges(ctx context.Context, user, namespace, name string) ([]models.TransclusionEdge, error) {
	content, _, err := r.src.LatestContent(ctx, user, namespace, name)
	if err != nil {
		return nil, err
	}
	var edges []models.TransclusionEdge
	for _, target := range Targets(string(content)) {
		edge := models.TransclusionEdge{Source: name, Target: target}
		if _, _, err := r.src.LatestContent(ctx, user, namespace, target); err == nil {
			edge.Exists = true
			edge.Cyclic = target == name || r.reaches(ctx, user, namespace, target, name, map[string]struct{}{name: {}})
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// reaches reports whether goal is reachable from name through
// transclusion references. visited guards against unrelated cycles.
func (r *Resolver) reaches(ctx context.Context, user, namespace, name, goal string, visited map[string]struct{}) bool {
	if _, ok := visited[name]; ok {
		return false
	}
	visited[name] = struct{}{}
	content, contentType, err := r.src.LatestContent(ctx, user, namespace, name)
	if err != nil || FormatterFor(contentType).Kind != FormatInline {
		return false
	}
	for _, target := range Targets(string(content)) {
		if target == goal {
			return true
		}
		if r.reaches(ctx, user, namespace, target, goal, visited) {
			return true
		}
	}
	return false
}
