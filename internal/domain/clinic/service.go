package clinic

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
)

// Errors that handlers map to conflict responses.
var (
	ErrLastVet       = errors.New("clinic must retain at least one vet")
	ErrAlreadyMember = errors.New("user is already a member of this clinic")
)

// SchemaProvisioner creates the Postgres schema for a new clinic and runs
// the clinic migrations against it.
type SchemaProvisioner func(ctx context.Context, schema string) error

type Service struct {
	repo        Repository
	trialPeriod time.Duration
	deviceLimit int
	provision   SchemaProvisioner
	onDeleted   func(uuid.UUID)
}

func NewService(repo Repository, trialPeriod time.Duration, deviceLimit int) *Service {
	return &Service{repo: repo, trialPeriod: trialPeriod, deviceLimit: deviceLimit}
}

// SetProvisioner attaches the schema provisioning step run on clinic
// creation. Without it, created clinics get no schema.
func (s *Service) SetProvisioner(fn SchemaProvisioner) {
	s.provision = fn
}

// OnDeleted attaches a hook run after a clinic row is removed, used to
// evict the schema resolver cache.
func (s *Service) OnDeleted(fn func(uuid.UUID)) {
	s.onDeleted = fn
}

var validSubscriptionStatuses = map[string]bool{
	SubTrialing: true,
	SubActive:   true,
	SubPastDue:  true,
	SubCanceled: true,
}

func (s *Service) CreateClinic(ctx context.Context, cl *Clinic) error {
	if strings.TrimSpace(cl.Name) == "" {
		return fmt.Errorf("name is required")
	}
	// The schema name derives from the id, so the id is assigned here
	// rather than in the repository.
	cl.ID = uuid.New()
	cl.SchemaName = db.SchemaNameFor(cl.ID)
	if cl.Slug == "" {
		cl.Slug = slugify(cl.Name)
	}
	if cl.Slug == "" {
		cl.Slug = cl.ID.String()[:8]
	}
	if existing, err := s.repo.GetBySlug(ctx, cl.Slug); err == nil && existing != nil {
		cl.Slug = cl.Slug + "-" + cl.ID.String()[:8]
	}
	if cl.DeviceLimit <= 0 {
		cl.DeviceLimit = s.deviceLimit
	}
	if cl.SubscriptionStatus == "" {
		cl.SubscriptionStatus = SubTrialing
	}
	if !validSubscriptionStatuses[cl.SubscriptionStatus] {
		return fmt.Errorf("invalid subscription status: %s", cl.SubscriptionStatus)
	}
	if cl.SubscriptionStatus == SubTrialing && cl.TrialEndsAt == nil {
		ends := time.Now().UTC().Add(s.trialPeriod)
		cl.TrialEndsAt = &ends
	}
	if err := s.repo.Create(ctx, cl); err != nil {
		return err
	}
	if s.provision != nil {
		if err := s.provision(ctx, cl.SchemaName); err != nil {
			return fmt.Errorf("provision clinic schema: %w", err)
		}
	}
	return nil
}

func (s *Service) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateClinic applies clinic-admin editable fields. Billing fields
// (device limit, subscription, trial end) only change through the
// dedicated operations.
func (s *Service) UpdateClinic(ctx context.Context, cl *Clinic) error {
	if strings.TrimSpace(cl.Name) == "" {
		return fmt.Errorf("name is required")
	}
	existing, err := s.repo.GetByID(ctx, cl.ID)
	if err != nil {
		return fmt.Errorf("clinic not found: %w", err)
	}
	cl.Slug = existing.Slug
	cl.SchemaName = existing.SchemaName
	cl.DeviceLimit = existing.DeviceLimit
	cl.SubscriptionStatus = existing.SubscriptionStatus
	cl.TrialEndsAt = existing.TrialEndsAt
	return s.repo.Update(ctx, cl)
}

func (s *Service) DeleteClinic(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.onDeleted != nil {
		s.onDeleted(id)
	}
	return nil
}

func (s *Service) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) UpdateSubscription(ctx context.Context, id uuid.UUID, status string, trialEndsAt *time.Time) error {
	if !validSubscriptionStatuses[status] {
		return fmt.Errorf("invalid subscription status: %s", status)
	}
	cl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("clinic not found: %w", err)
	}
	cl.SubscriptionStatus = status
	if trialEndsAt != nil {
		cl.TrialEndsAt = trialEndsAt
	}
	return s.repo.Update(ctx, cl)
}

func (s *Service) UpdateDeviceLimit(ctx context.Context, id uuid.UUID, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("device limit must be positive")
	}
	cl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("clinic not found: %w", err)
	}
	cl.DeviceLimit = limit
	return s.repo.Update(ctx, cl)
}

func (s *Service) AddMembership(ctx context.Context, m *Membership) error {
	if m.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if m.ClinicID == uuid.Nil {
		return fmt.Errorf("clinic_id is required")
	}
	if !auth.ValidClinicRole(m.Role) {
		return fmt.Errorf("invalid role: %s", m.Role)
	}
	if existing, err := s.repo.GetMembership(ctx, m.UserID, m.ClinicID); err == nil && existing != nil {
		return ErrAlreadyMember
	}
	if m.IsDefault {
		if err := s.repo.ClearDefault(ctx, m.UserID); err != nil {
			return err
		}
	}
	return s.repo.AddMembership(ctx, m)
}

func (s *Service) GetMembership(ctx context.Context, userID, clinicID uuid.UUID) (*Membership, error) {
	return s.repo.GetMembership(ctx, userID, clinicID)
}

func (s *Service) ListMembers(ctx context.Context, clinicID uuid.UUID) ([]*Member, error) {
	return s.repo.ListMembers(ctx, clinicID)
}

func (s *Service) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*UserMembership, error) {
	return s.repo.ListUserMemberships(ctx, userID)
}

func (s *Service) UpdateMembershipRole(ctx context.Context, id uuid.UUID, role string) error {
	if !auth.ValidClinicRole(role) {
		return fmt.Errorf("invalid role: %s", role)
	}
	m, err := s.repo.GetMembershipByID(ctx, id)
	if err != nil {
		return fmt.Errorf("membership not found: %w", err)
	}
	if m.Role == auth.RoleVet && role != auth.RoleVet {
		if err := s.guardLastVet(ctx, m.ClinicID); err != nil {
			return err
		}
	}
	return s.repo.UpdateMembershipRole(ctx, id, role)
}

func (s *Service) RemoveMembership(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetMembershipByID(ctx, id)
	if err != nil {
		return fmt.Errorf("membership not found: %w", err)
	}
	if m.Role == auth.RoleVet {
		if err := s.guardLastVet(ctx, m.ClinicID); err != nil {
			return err
		}
	}
	return s.repo.RemoveMembership(ctx, id)
}

// MakeDefault marks one of the user's memberships as their login default,
// clearing any previous default.
func (s *Service) MakeDefault(ctx context.Context, userID, membershipID uuid.UUID) error {
	m, err := s.repo.GetMembershipByID(ctx, membershipID)
	if err != nil {
		return fmt.Errorf("membership not found: %w", err)
	}
	if m.UserID != userID {
		return fmt.Errorf("membership not found")
	}
	if err := s.repo.ClearDefault(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetDefault(ctx, membershipID)
}

func (s *Service) guardLastVet(ctx context.Context, clinicID uuid.UUID) error {
	n, err := s.repo.CountRole(ctx, clinicID, auth.RoleVet)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastVet
	}
	return nil
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := slugStripRe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
