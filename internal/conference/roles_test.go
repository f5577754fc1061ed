package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func join(members map[string]*Participant, joinOrder []string, p *Participant) []string {
	members[p.EndpointID] = p
	return append(joinOrder, p.EndpointID)
}

func TestAutoOwnerPolicy_FirstJoinerBecomesOwner(t *testing.T) {
	policy := AutoOwnerPolicy{}
	members := map[string]*Participant{}
	var joinOrder []string

	alice := &Participant{EndpointID: "alice"}
	joinOrder = join(members, joinOrder, alice)
	policy.OnJoin(members, joinOrder, alice)
	assert.True(t, alice.IsModerator)

	bob := &Participant{EndpointID: "bob"}
	joinOrder = join(members, joinOrder, bob)
	policy.OnJoin(members, joinOrder, bob)
	assert.False(t, bob.IsModerator)
}

func TestAutoOwnerPolicy_RobotNeverBecomesOwner(t *testing.T) {
	policy := AutoOwnerPolicy{}
	members := map[string]*Participant{}
	var joinOrder []string

	robot := &Participant{EndpointID: "recorder", IsRobot: true}
	joinOrder = join(members, joinOrder, robot)
	policy.OnJoin(members, joinOrder, robot)
	assert.False(t, robot.IsModerator)
}

func TestAutoOwnerPolicy_ReelectsEarliestRemainingOnOwnerLeave(t *testing.T) {
	policy := AutoOwnerPolicy{}
	members := map[string]*Participant{}
	var joinOrder []string

	alice := &Participant{EndpointID: "alice"}
	joinOrder = join(members, joinOrder, alice)
	policy.OnJoin(members, joinOrder, alice)

	bob := &Participant{EndpointID: "bob"}
	joinOrder = join(members, joinOrder, bob)
	policy.OnJoin(members, joinOrder, bob)

	carol := &Participant{EndpointID: "carol"}
	joinOrder = join(members, joinOrder, carol)
	policy.OnJoin(members, joinOrder, carol)

	delete(members, "alice")
	joinOrder = removeID(joinOrder, "alice")
	policy.OnLeave(members, joinOrder, alice)

	assert.True(t, bob.IsModerator)
	assert.False(t, carol.IsModerator)
}

func TestAuthenticatedPolicy_GrantsOwnerOnlyOnAuthentication(t *testing.T) {
	policy := AuthenticatedPolicy{}
	members := map[string]*Participant{}
	var joinOrder []string

	alice := &Participant{EndpointID: "alice"}
	joinOrder = join(members, joinOrder, alice)
	policy.OnJoin(members, joinOrder, alice)
	assert.False(t, alice.IsModerator)

	policy.OnAuthenticated(members, alice)
	assert.True(t, alice.IsModerator)
}
