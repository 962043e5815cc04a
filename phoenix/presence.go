package phoenix

// Meta is one presence entry for a key; a key may carry several (one per
// connected tab or device). The server tags each with phx_ref.
type Meta map[string]any

// Ref returns the server-assigned phx_ref, or "" when absent.
func (m Meta) Ref() string {
	ref, _ := m["phx_ref"].(string)
	return ref
}

// Presence is the per-key payload of presence_state and presence_diff.
type Presence struct {
	Metas []Meta `json:"metas"`
}

// PresenceState maps a presence key (a user id) to its metas.
type PresenceState map[string]Presence

// PresenceDiff is the payload of presence_diff.
type PresenceDiff struct {
	Joins  PresenceState `json:"joins"`
	Leaves PresenceState `json:"leaves"`
}

// SyncState replaces current with next wholesale.
func SyncState(_ PresenceState, next PresenceState) PresenceState {
	out := make(PresenceState, len(next))
	for key, p := range next {
		out[key] = Presence{Metas: append([]Meta(nil), p.Metas...)}
	}
	return out
}

// SyncDiff applies joins then leaves on top of current and returns the
// result; current is not modified. Joins for unknown keys add them. Leaves
// for unknown keys are ignored. A leave that names no phx_ref, or that
// removes the last meta of a key, removes the key.
func SyncDiff(current PresenceState, diff PresenceDiff) PresenceState {
	out := SyncState(nil, current)
	for key, joined := range diff.Joins {
		existing, ok := out[key]
		if !ok {
			out[key] = Presence{Metas: append([]Meta(nil), joined.Metas...)}
			continue
		}
		seen := make(map[string]struct{}, len(joined.Metas))
		for _, m := range joined.Metas {
			if ref := m.Ref(); ref != "" {
				seen[ref] = struct{}{}
			}
		}
		metas := make([]Meta, 0, len(existing.Metas)+len(joined.Metas))
		for _, m := range existing.Metas {
			if _, dup := seen[m.Ref()]; dup && m.Ref() != "" {
				continue
			}
			metas = append(metas, m)
		}
		out[key] = Presence{Metas: append(metas, joined.Metas...)}
	}
	for key, left := range diff.Leaves {
		existing, ok := out[key]
		if !ok {
			continue
		}
		refs := make(map[string]struct{}, len(left.Metas))
		for _, m := range left.Metas {
			if ref := m.Ref(); ref != "" {
				refs[ref] = struct{}{}
			}
		}
		if len(refs) == 0 {
			delete(out, key)
			continue
		}
		metas := existing.Metas[:0:0]
		for _, m := range existing.Metas {
			if _, gone := refs[m.Ref()]; !gone {
				metas = append(metas, m)
			}
		}
		if len(metas) == 0 {
			delete(out, key)
			continue
		}
		out[key] = Presence{Metas: metas}
	}
	return out
}
