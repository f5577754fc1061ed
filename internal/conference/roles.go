package conference

// RolePolicy decides who holds the "owner" (moderator) role as membership
// changes. spec.md §4.G names two policies; both are pluggable strategy
// objects passed in explicitly (spec.md §9 "Global state" design note),
// never a module-level singleton.
type RolePolicy interface {
	Name() string

	// OnJoin is called with the caller's lock held, right after p is added
	// to the member table.
	OnJoin(members map[string]*Participant, joinOrder []string, p *Participant)

	// OnLeave is called with the caller's lock held, right after p is
	// removed from the member table and joinOrder.
	OnLeave(members map[string]*Participant, joinOrder []string, p *Participant)

	// OnAuthenticated is called when a member's identity is confirmed by
	// the authentication authority. No-op for policies that don't grant
	// ownership on authentication.
	OnAuthenticated(members map[string]*Participant, p *Participant)
}

// AutoOwnerPolicy always ensures exactly one human (non-robot) member is
// owner: the first to join becomes owner; if the owner leaves, the
// earliest-joined remaining non-robot member is elected (spec.md §4.G
// policy 1).
type AutoOwnerPolicy struct{}

func (AutoOwnerPolicy) Name() string { return "auto-owner" }

func (AutoOwnerPolicy) OnJoin(members map[string]*Participant, joinOrder []string, p *Participant) {
	if p.IsRobot {
		return
	}
	if !hasOwner(members) {
		p.IsModerator = true
	}
}

func (AutoOwnerPolicy) OnLeave(members map[string]*Participant, joinOrder []string, p *Participant) {
	if !p.IsModerator {
		return
	}
	if hasOwner(members) {
		return
	}
	for _, id := range joinOrder {
		candidate, ok := members[id]
		if !ok || candidate.IsRobot {
			continue
		}
		candidate.IsModerator = true
		return
	}
}

func (AutoOwnerPolicy) OnAuthenticated(map[string]*Participant, *Participant) {}

// AuthenticatedPolicy grants owner to every member as they authenticate
// against the authentication authority, independent of join order (spec.md
// §4.G policy 2).
type AuthenticatedPolicy struct{}

func (AuthenticatedPolicy) Name() string { return "authenticated" }

func (AuthenticatedPolicy) OnJoin(map[string]*Participant, []string, *Participant) {}

func (AuthenticatedPolicy) OnLeave(map[string]*Participant, []string, *Participant) {}

func (AuthenticatedPolicy) OnAuthenticated(members map[string]*Participant, p *Participant) {
	p.IsModerator = true
}

func hasOwner(members map[string]*Participant) bool {
	for _, p := range members {
		if p.IsModerator {
			return true
		}
	}
	return false
}
