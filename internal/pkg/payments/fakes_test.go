package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/provado-app/provado/app/repository/repotest"
	"github.com/provado-app/provado/internal/pkg/identity"
)

// The repository fakes live in repotest so handler tests can share them;
// these aliases keep the local test helpers short.

type fakeUserRepo = repotest.UserRepo
type fakeOrderRepo = repotest.OrderRepo
type fakeEventRepo = repotest.EventRepo
type fakeEntitlementRepo = repotest.EntitlementRepo
type fakePlanRepo = repotest.PlanRepo
type fakeClaimRepo = repotest.ClaimRepo

func newFakeUserRepo() *fakeUserRepo               { return repotest.NewUserRepo() }
func newFakeOrderRepo() *fakeOrderRepo             { return repotest.NewOrderRepo() }
func newFakeEventRepo() *fakeEventRepo             { return repotest.NewEventRepo() }
func newFakeEntitlementRepo() *fakeEntitlementRepo { return repotest.NewEntitlementRepo() }
func newFakePlanRepo() *fakePlanRepo               { return repotest.NewPlanRepo() }
func newFakeClaimRepo() *fakeClaimRepo             { return repotest.NewClaimRepo() }

// fakeDirectory stands in for the hosted identity admin API.
type fakeDirectory struct {
	mu          sync.Mutex
	users       map[string]*identity.DirectoryUser // keyed by email
	metadata    map[string]map[string]interface{}  // keyed by directory user id
	invitations []string                           // invited emails, in order
	lookupErr   error
	inviteErr   error
	updateErr   error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:    map[string]*identity.DirectoryUser{},
		metadata: map[string]map[string]interface{}{},
	}
}

func (d *fakeDirectory) GetUserByEmail(ctx context.Context, email string) (*identity.DirectoryUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return nil, d.lookupErr
	}
	if u, ok := d.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (d *fakeDirectory) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.updateErr != nil {
		return d.updateErr
	}
	d.metadata[userID] = metadata
	return nil
}

func (d *fakeDirectory) CreateInvitation(ctx context.Context, email, redirectTo string, metadata map[string]interface{}) (*identity.Invitation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inviteErr != nil {
		return nil, d.inviteErr
	}
	d.invitations = append(d.invitations, email)
	return &identity.Invitation{
		ID:        fmt.Sprintf("inv_%d", len(d.invitations)),
		Email:     email,
		ActionURL: redirectTo,
	}, nil
}

var _ Directory = (*fakeDirectory)(nil)
