// Package recipients computes the effective To/Cc/Bcc for client-facing
// notifications from layered defaults: client-level address book, per-task
// overrides, and internal trail toggles. The mail provider requires a
// non-empty To, so an otherwise-empty To is promoted from Cc/Bcc.
package recipients

import (
	"strings"

	"github.com/firmdesk/firmdesk/internal/models"
)

// List is a resolved recipient set. An all-empty List means the
// notification is a no-op for the sender, not an error.
type List struct {
	To  []string `json:"to"`
	Cc  []string `json:"cc"`
	Bcc []string `json:"bcc"`
}

// Empty reports whether no addresses remain on any line.
func (l List) Empty() bool {
	return len(l.To) == 0 && len(l.Cc) == 0 && len(l.Bcc) == 0
}

// Merge unions address lists with case-insensitive deduplication. The
// first-seen casing wins; blank entries are dropped.
func Merge(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, raw := range list {
			v := strings.TrimSpace(raw)
			if v == "" {
				continue
			}
			k := strings.ToLower(v)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// SplitAddressList accepts either a pre-split list or a single string with
// comma/semicolon/colon separators, as pasted address lines arrive both ways
// from the UI and bulk imports.
func SplitAddressList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ':'
	})
	var out []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func promote(to, cc, bcc []string) []string {
	if len(to) > 0 {
		return to
	}
	if len(cc) > 0 {
		return []string{cc[0]}
	}
	if len(bcc) > 0 {
		return []string{bcc[0]}
	}
	return nil
}

// ResolveStart computes recipients for the start notification.
// managerEmail is the assignee's manager address, already looked up by the
// caller ("" when unknown); it participates only when the CcManager toggle
// is set.
func ResolveStart(client models.Client, task models.Task, managerEmail string) List {
	var to []string
	if task.StartMail.Enabled {
		if len(task.StartMail.To) > 0 {
			to = task.StartMail.To
		} else if client.PrimaryEmail != "" {
			to = []string{client.PrimaryEmail}
		}
	}

	cc := Merge(client.CcEmails, task.StartMail.Cc)
	bcc := Merge(client.BccEmails, task.StartMail.Bcc)

	if task.StartMail.CcAssignee && task.AssignedToEmail != "" {
		cc = Merge(cc, []string{task.AssignedToEmail})
	}
	if task.StartMail.CcManager && managerEmail != "" {
		cc = Merge(cc, []string{managerEmail})
	}

	to = Merge(to)
	return List{To: Merge(promote(to, cc, bcc)), Cc: cc, Bcc: bcc}
}

// ResolveCompletion computes recipients for the completion notification.
// When no completion-specific To override exists it falls back to the start
// resolution's To (including its promotion), then layers the completion
// Cc/Bcc and toggles on top.
func ResolveCompletion(client models.Client, task models.Task, managerEmail string) List {
	start := ResolveStart(client, task, managerEmail)

	to := task.CompletionMail.To
	if len(to) == 0 {
		to = start.To
	}

	cc := Merge(start.Cc, task.CompletionMail.Cc)
	bcc := Merge(start.Bcc, task.CompletionMail.Bcc)

	if task.CompletionMail.CcAssignee && task.AssignedToEmail != "" {
		cc = Merge(cc, []string{task.AssignedToEmail})
	}
	if task.CompletionMail.CcManager && managerEmail != "" {
		cc = Merge(cc, []string{managerEmail})
	}

	to = Merge(to)
	return List{To: Merge(promote(to, cc, bcc)), Cc: cc, Bcc: bcc}
}
