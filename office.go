package rolepolicy

import (
	"sort"
	"strings"
	"time"
)

// Office is a host-routing organisation. HostCount mirrors len(HostRosterEmails).
type Office struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	City             string    `json:"city" yaml:"city"`
	HostRosterEmails []string  `json:"host_roster_emails" yaml:"host_roster_emails,omitempty"`
	HostCount        int       `json:"host_count" yaml:"host_count,omitempty"`
	Version          int64     `json:"version" yaml:"version,omitempty"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// HasMember reports whether email is on the roster.
func (o *Office) HasMember(email string) bool {
	key := normalizeEmail(email)
	for _, e := range o.HostRosterEmails {
		if normalizeEmail(e) == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (o *Office) Clone() *Office {
	if o == nil {
		return nil
	}
	c := *o
	c.HostRosterEmails = append([]string(nil), o.HostRosterEmails...)
	return &c
}

// RosterOp is the kind of roster mutation.
type RosterOp string

const (
	RosterAdd    RosterOp = "add"
	RosterRemove RosterOp = "remove"
)

// RosterChange adds or removes one email from one office roster. Applying the
// same change twice has the same effect as applying it once.
type RosterChange struct {
	OfficeID string   `json:"office_id"`
	Email    string   `json:"email"`
	Op       RosterOp `json:"op"`
}

// Inverse returns the change that undoes c.
func (c RosterChange) Inverse() RosterChange {
	inv := c
	if c.Op == RosterAdd {
		inv.Op = RosterRemove
	} else {
		inv.Op = RosterAdd
	}
	return inv
}

// ApplyRosterChange mutates o in place and keeps HostCount equal to the roster
// size. It reports whether the roster changed. Stores call it inside whatever
// atomic section they provide.
func ApplyRosterChange(o *Office, c RosterChange) bool {
	key := normalizeEmail(c.Email)
	if key == "" {
		return false
	}
	changed := false
	switch c.Op {
	case RosterAdd:
		if !o.HasMember(key) {
			o.HostRosterEmails = append(o.HostRosterEmails, key)
			sort.Strings(o.HostRosterEmails)
			changed = true
		}
	case RosterRemove:
		kept := o.HostRosterEmails[:0]
		for _, e := range o.HostRosterEmails {
			if normalizeEmail(e) == key {
				changed = true
				continue
			}
			kept = append(kept, e)
		}
		o.HostRosterEmails = kept
	}
	o.HostCount = len(o.HostRosterEmails)
	return changed
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
