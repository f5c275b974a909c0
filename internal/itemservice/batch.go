package itemservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/metaindex"
	"github.com/starford/ansuz/internal/naming"
)

// Batch actions.
const (
	ActionDelete  = "delete"
	ActionDestroy = "destroy"
)

// ItemStatus is the per-item outcome of a batch operation. The batch
// UI renders "N succeeded, M failed: ..." directly from these rows.
type ItemStatus struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Batch applies action to each named item independently. Failures,
// ACL denials included, are collected per item and never abort the
// remaining items. With includeSubitems, each name also covers the live
// items under its "name/" prefix.
//
// Cancellation stops before the next item; items already processed stay
// processed. For destroy that is irreversible by design: there is no
// partial rollback.
func (s *Service) Batch(ctx context.Context, user, action string, names []string, namespace, comment string, includeSubitems bool) ([]ItemStatus, error) {
	if action != ActionDelete && action != ActionDestroy {
		return nil, fmt.Errorf("itemservice: batch action %q: %w", action, apperr.ErrValidation)
	}

	if includeSubitems {
		expanded, err := s.expandSubitems(namespace, names)
		if err != nil {
			return nil, err
		}
		names = expanded
	}

	statuses := make([]ItemStatus, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return statuses, err
		}

		var err error
		switch action {
		case ActionDelete:
			err = s.Delete(ctx, user, namespace, name, comment)
		case ActionDestroy:
			err = s.Destroy(ctx, user, namespace, name, 0, true)
		}
		if err != nil {
			statuses = append(statuses, ItemStatus{Name: name, Reason: failureReason(err)})
			continue
		}
		statuses = append(statuses, ItemStatus{Name: name, Success: true})
	}
	return statuses, nil
}

// expandSubitems appends, after each name, the live items under its
// subitem prefix, preserving order and dropping duplicates.
func (s *Service) expandSubitems(namespace string, names []string) ([]string, error) {
	entries, _, err := s.idx.List(metaindex.Filter{Namespace: namespace, Trashed: true, Limit: -1})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(names))
	var out []string
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for _, name := range names {
		add(name)
		for _, e := range entries {
			if naming.IsSubitem(name, e.Name) {
				add(e.Name)
			}
		}
	}
	return out, nil
}

// failureReason classifies an error for the per-item status row.
func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return "not found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		// Strip the package prefix; the remainder is already user-facing.
		msg := err.Error()
		if i := strings.Index(msg, ": "); i >= 0 && strings.HasPrefix(msg, "itemservice") {
			msg = msg[i+2:]
		}
		return msg
	}
}
