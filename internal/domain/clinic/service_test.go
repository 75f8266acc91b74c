package clinic

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	clinics     map[uuid.UUID]*Clinic
	memberships map[uuid.UUID]*Membership
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clinics:     make(map[uuid.UUID]*Clinic),
		memberships: make(map[uuid.UUID]*Membership),
	}
}

func (m *mockRepo) Create(_ context.Context, cl *Clinic) error {
	if cl.ID == uuid.Nil {
		cl.ID = uuid.New()
	}
	cl.CreatedAt = time.Now()
	cl.UpdatedAt = time.Now()
	m.clinics[cl.ID] = cl
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	cl, ok := m.clinics[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return cl, nil
}

func (m *mockRepo) GetBySlug(_ context.Context, slug string) (*Clinic, error) {
	for _, cl := range m.clinics {
		if cl.Slug == slug {
			return cl, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockRepo) Update(_ context.Context, cl *Clinic) error {
	m.clinics[cl.ID] = cl
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.clinics, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Clinic, int, error) {
	var result []*Clinic
	for _, cl := range m.clinics {
		result = append(result, cl)
	}
	return result, len(result), nil
}

func (m *mockRepo) AddMembership(_ context.Context, mem *Membership) error {
	mem.ID = uuid.New()
	mem.CreatedAt = time.Now()
	m.memberships[mem.ID] = mem
	return nil
}

func (m *mockRepo) GetMembership(_ context.Context, userID, clinicID uuid.UUID) (*Membership, error) {
	for _, mem := range m.memberships {
		if mem.UserID == userID && mem.ClinicID == clinicID {
			return mem, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockRepo) GetMembershipByID(_ context.Context, id uuid.UUID) (*Membership, error) {
	mem, ok := m.memberships[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return mem, nil
}

func (m *mockRepo) ListMembers(_ context.Context, clinicID uuid.UUID) ([]*Member, error) {
	var result []*Member
	for _, mem := range m.memberships {
		if mem.ClinicID == clinicID {
			result = append(result, &Member{Membership: *mem})
		}
	}
	return result, nil
}

func (m *mockRepo) ListUserMemberships(_ context.Context, userID uuid.UUID) ([]*UserMembership, error) {
	var result []*UserMembership
	for _, mem := range m.memberships {
		if mem.UserID == userID {
			um := &UserMembership{Membership: *mem}
			if cl, ok := m.clinics[mem.ClinicID]; ok {
				um.ClinicName = cl.Name
			}
			result = append(result, um)
		}
	}
	return result, nil
}

func (m *mockRepo) UpdateMembershipRole(_ context.Context, id uuid.UUID, role string) error {
	mem, ok := m.memberships[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	mem.Role = role
	return nil
}

func (m *mockRepo) RemoveMembership(_ context.Context, id uuid.UUID) error {
	delete(m.memberships, id)
	return nil
}

func (m *mockRepo) CountRole(_ context.Context, clinicID uuid.UUID, role string) (int, error) {
	count := 0
	for _, mem := range m.memberships {
		if mem.ClinicID == clinicID && mem.Role == role {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) ClearDefault(_ context.Context, userID uuid.UUID) error {
	for _, mem := range m.memberships {
		if mem.UserID == userID {
			mem.IsDefault = false
		}
	}
	return nil
}

func (m *mockRepo) SetDefault(_ context.Context, id uuid.UUID) error {
	mem, ok := m.memberships[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	mem.IsDefault = true
	return nil
}

// -- Tests --

func newTestService() *Service {
	return NewService(newMockRepo(), 14*24*time.Hour, 5)
}

func TestCreateClinic(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws Veterinary"}
	err := svc.CreateClinic(context.Background(), cl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cl.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if cl.Slug != "happy-paws-veterinary" {
		t.Errorf("expected derived slug, got %s", cl.Slug)
	}
	if cl.SchemaName == "" {
		t.Error("expected schema name to be set")
	}
	if cl.SubscriptionStatus != SubTrialing {
		t.Errorf("expected trialing, got %s", cl.SubscriptionStatus)
	}
	if cl.TrialEndsAt == nil || !cl.TrialEndsAt.After(time.Now()) {
		t.Error("expected trial end in the future")
	}
	if cl.DeviceLimit != 5 {
		t.Errorf("expected default device limit 5, got %d", cl.DeviceLimit)
	}
}

func TestCreateClinic_NameRequired(t *testing.T) {
	svc := newTestService()

	err := svc.CreateClinic(context.Background(), &Clinic{})
	if err == nil {
		t.Error("expected error for missing name")
	}
}

func TestCreateClinic_SlugCollision(t *testing.T) {
	svc := newTestService()

	first := &Clinic{Name: "Happy Paws"}
	if err := svc.CreateClinic(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := &Clinic{Name: "Happy Paws"}
	if err := svc.CreateClinic(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Slug == first.Slug {
		t.Errorf("expected colliding slug to be suffixed, got %s", second.Slug)
	}
}

func TestCreateClinic_RunsProvisioner(t *testing.T) {
	svc := newTestService()

	var provisioned string
	svc.SetProvisioner(func(_ context.Context, schema string) error {
		provisioned = schema
		return nil
	})

	cl := &Clinic{Name: "Happy Paws"}
	if err := svc.CreateClinic(context.Background(), cl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provisioned != cl.SchemaName {
		t.Errorf("expected provisioner to receive %s, got %s", cl.SchemaName, provisioned)
	}
}

func TestUpdateClinic_PreservesBillingFields(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	update := &Clinic{ID: cl.ID, Name: "Happy Paws West", DeviceLimit: 99, SubscriptionStatus: SubActive}
	if err := svc.UpdateClinic(context.Background(), update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.DeviceLimit != 5 {
		t.Errorf("expected device limit preserved at 5, got %d", update.DeviceLimit)
	}
	if update.SubscriptionStatus != SubTrialing {
		t.Errorf("expected subscription preserved, got %s", update.SubscriptionStatus)
	}
	if update.Name != "Happy Paws West" {
		t.Errorf("expected name updated, got %s", update.Name)
	}
}

func TestUpdateSubscription(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	if err := svc.UpdateSubscription(context.Background(), cl.ID, SubActive, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, _ := svc.GetClinic(context.Background(), cl.ID)
	if updated.SubscriptionStatus != SubActive {
		t.Errorf("expected active, got %s", updated.SubscriptionStatus)
	}
}

func TestUpdateSubscription_InvalidStatus(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	if err := svc.UpdateSubscription(context.Background(), cl.ID, "bogus", nil); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUpdateDeviceLimit_MustBePositive(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	if err := svc.UpdateDeviceLimit(context.Background(), cl.ID, 0); err == nil {
		t.Error("expected error for zero limit")
	}
}

func TestAddMembership(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	m := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	if err := svc.AddMembership(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestAddMembership_Duplicate(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	userID := uuid.New()
	svc.AddMembership(context.Background(), &Membership{UserID: userID, ClinicID: cl.ID, Role: auth.RoleVet})

	err := svc.AddMembership(context.Background(), &Membership{UserID: userID, ClinicID: cl.ID, Role: auth.RoleVetTech})
	if !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestAddMembership_InvalidRole(t *testing.T) {
	svc := newTestService()

	err := svc.AddMembership(context.Background(), &Membership{UserID: uuid.New(), ClinicID: uuid.New(), Role: "janitor"})
	if err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestAddMembership_DefaultClearsOld(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 14*24*time.Hour, 5)

	userID := uuid.New()
	first := &Membership{UserID: userID, ClinicID: uuid.New(), Role: auth.RoleVet, IsDefault: true}
	svc.AddMembership(context.Background(), first)

	second := &Membership{UserID: userID, ClinicID: uuid.New(), Role: auth.RoleVet, IsDefault: true}
	svc.AddMembership(context.Background(), second)

	if repo.memberships[first.ID].IsDefault {
		t.Error("expected first membership default to be cleared")
	}
	if !repo.memberships[second.ID].IsDefault {
		t.Error("expected second membership to be default")
	}
}

func TestUpdateMembershipRole_LastVet(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	m := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	svc.AddMembership(context.Background(), m)

	err := svc.UpdateMembershipRole(context.Background(), m.ID, auth.RoleVetTech)
	if !errors.Is(err, ErrLastVet) {
		t.Errorf("expected ErrLastVet, got %v", err)
	}
}

func TestUpdateMembershipRole_SecondVetAllows(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	first := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	svc.AddMembership(context.Background(), first)
	second := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	svc.AddMembership(context.Background(), second)

	if err := svc.UpdateMembershipRole(context.Background(), first.ID, auth.RoleReceptionist); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoveMembership_LastVet(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	m := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	svc.AddMembership(context.Background(), m)

	err := svc.RemoveMembership(context.Background(), m.ID)
	if !errors.Is(err, ErrLastVet) {
		t.Errorf("expected ErrLastVet, got %v", err)
	}
}

func TestRemoveMembership_NonVet(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	vet := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVet}
	svc.AddMembership(context.Background(), vet)
	tech := &Membership{UserID: uuid.New(), ClinicID: cl.ID, Role: auth.RoleVetTech}
	svc.AddMembership(context.Background(), tech)

	if err := svc.RemoveMembership(context.Background(), tech.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMakeDefault(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 14*24*time.Hour, 5)

	userID := uuid.New()
	first := &Membership{UserID: userID, ClinicID: uuid.New(), Role: auth.RoleVet, IsDefault: true}
	svc.AddMembership(context.Background(), first)
	second := &Membership{UserID: userID, ClinicID: uuid.New(), Role: auth.RoleVet}
	svc.AddMembership(context.Background(), second)

	if err := svc.MakeDefault(context.Background(), userID, second.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.memberships[first.ID].IsDefault {
		t.Error("expected old default to be cleared")
	}
	if !repo.memberships[second.ID].IsDefault {
		t.Error("expected new default to be set")
	}
}

func TestMakeDefault_WrongUser(t *testing.T) {
	svc := newTestService()

	m := &Membership{UserID: uuid.New(), ClinicID: uuid.New(), Role: auth.RoleVet}
	svc.AddMembership(context.Background(), m)

	if err := svc.MakeDefault(context.Background(), uuid.New(), m.ID); err == nil {
		t.Error("expected error for membership owned by another user")
	}
}

func TestDeleteClinic_RunsHook(t *testing.T) {
	svc := newTestService()

	cl := &Clinic{Name: "Happy Paws"}
	svc.CreateClinic(context.Background(), cl)

	var evicted uuid.UUID
	svc.OnDeleted(func(id uuid.UUID) { evicted = id })

	if err := svc.DeleteClinic(context.Background(), cl.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evicted != cl.ID {
		t.Errorf("expected hook to receive %s, got %s", cl.ID, evicted)
	}
}
