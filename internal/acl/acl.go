// Package acl parses and evaluates access control list strings.
//
// An ACL string is a whitespace-separated sequence of entries, each
// "subject[,subject...]:right[,right...]", evaluated left to right with
// first match winning:
//
//	"Alice,Bob:read,write,delete All:read"
//
// Special subjects: "All" matches every user including the anonymous
// one; "Known" matches any authenticated user.
package acl

import (
	"strings"
)

// Rights understood by the evaluator. Delete and destroy are distinct:
// delete appends a reversible tombstone, destroy removes data.
const (
	Read    = "read"
	Write   = "write"
	Create  = "create"
	Delete  = "delete"
	Destroy = "destroy"
	Admin   = "admin"
)

// Anonymous is the principal name of an unauthenticated caller.
const Anonymous = ""

const (
	subjectAll   = "All"
	subjectKnown = "Known"
)

type entry struct {
	subjects []string
	rights   map[string]struct{}
}

// ACL is a parsed access control list.
type ACL struct {
	entries []entry
}

// Parse parses an ACL string. Malformed fragments (no colon) are
// skipped rather than rejected, matching how a wiki treats legacy ACL
// lines in old revisions.
func Parse(s string) ACL {
	var a ACL
	for _, field := range strings.Fields(s) {
		i := strings.IndexByte(field, ':')
		if i <= 0 {
			continue
		}
		e := entry{rights: make(map[string]struct{})}
		for _, sub := range strings.Split(field[:i], ",") {
			if sub != "" {
				e.subjects = append(e.subjects, sub)
			}
		}
		for _, r := range strings.Split(field[i+1:], ",") {
			if r != "" {
				e.rights[r] = struct{}{}
			}
		}
		if len(e.subjects) > 0 {
			a.entries = append(a.entries, e)
		}
	}
	return a
}

// match reports whether the entry applies to user, and if so whether it
// grants the right.
func (e entry) match(user string) bool {
	for _, sub := range e.subjects {
		switch sub {
		case subjectAll:
			return true
		case subjectKnown:
			if user != Anonymous {
				return true
			}
		default:
			if sub == user {
				return true
			}
		}
	}
	return false
}

// May evaluates the ACL for user and right. The first entry whose
// subjects match the user decides; later entries are not consulted.
// An admin grant implies every other right.
func (a ACL) May(user, right string) bool {
	for _, e := range a.entries {
		if !e.match(user) {
			continue
		}
		if _, ok := e.rights[right]; ok {
			return true
		}
		_, admin := e.rights[Admin]
		return admin
	}
	return false
}

// Empty reports whether the ACL has no entries, which denies everything.
func (a ACL) Empty() bool {
	return len(a.entries) == 0
}

// Evaluator resolves effective rights against a revision ACL with a
// configured fallback.
type Evaluator struct {
	defaultACL ACL
}

// NewEvaluator creates an evaluator with the given default ACL string,
// used whenever a revision carries no ACL of its own.
func NewEvaluator(defaultACL string) *Evaluator {
	return &Evaluator{defaultACL: Parse(defaultACL)}
}

// May reports whether user holds right under aclString, falling back to
// the default ACL when aclString is empty.
func (ev *Evaluator) May(user, aclString, right string) bool {
	if aclString == "" {
		return ev.defaultACL.May(user, right)
	}
	return Parse(aclString).May(user, right)
}
