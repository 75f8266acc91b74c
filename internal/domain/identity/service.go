package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/whiskr/whiskr/internal/domain/clinic"
	"github.com/whiskr/whiskr/internal/platform/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrDeviceLimit        = errors.New("device limit reached for this clinic")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrNotMember          = errors.New("not a member of this clinic")
	ErrNoClinic           = errors.New("no clinic membership")
)

// Clinics is the slice of the clinic service the identity flows need.
type Clinics interface {
	CreateClinic(ctx context.Context, cl *clinic.Clinic) error
	GetClinic(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	AddMembership(ctx context.Context, m *clinic.Membership) error
	GetMembership(ctx context.Context, userID, clinicID uuid.UUID) (*clinic.Membership, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*clinic.UserMembership, error)
}

type Service struct {
	repo       Repository
	clinics    Clinics
	issuer     *auth.Issuer
	refreshTTL time.Duration
}

func NewService(repo Repository, clinics Clinics, issuer *auth.Issuer, refreshTTL time.Duration) *Service {
	return &Service{repo: repo, clinics: clinics, issuer: issuer, refreshTTL: refreshTTL}
}

type RegisterInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	ClinicName string `json:"clinic_name"`
}

// Register creates the account, its clinic and the founding membership in
// one step. The new user administers the clinic and practices in it as a
// vet; the clinic starts on a trial.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, *TokenPair, error) {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, nil, fmt.Errorf("a valid email is required")
	}
	if len(in.Password) < 8 {
		return nil, nil, fmt.Errorf("password must be at least 8 characters")
	}
	if in.FullName == "" {
		return nil, nil, fmt.Errorf("full_name is required")
	}
	if in.ClinicName == "" {
		return nil, nil, fmt.Errorf("clinic_name is required")
	}
	if _, err := s.repo.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Email:        in.Email,
		PasswordHash: string(hash),
		FullName:     in.FullName,
		AccountRole:  auth.RoleAdmin,
		Status:       UserActive,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	cl := &clinic.Clinic{Name: in.ClinicName}
	if err := s.clinics.CreateClinic(ctx, cl); err != nil {
		return nil, nil, fmt.Errorf("create clinic: %w", err)
	}
	m := &clinic.Membership{UserID: u.ID, ClinicID: cl.ID, Role: auth.RoleVet, IsDefault: true}
	if err := s.clinics.AddMembership(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("create membership: %w", err)
	}

	pair, err := s.mintPair(ctx, u, cl.ID, auth.RoleVet)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

type DeviceInfo struct {
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"user_agent"`
}

type LoginInput struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	ClinicID *uuid.UUID  `json:"clinic_id"`
	Device   *DeviceInfo `json:"device"`
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*User, *TokenPair, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(in.Email)))
	if err != nil {
		// Burn a comparison so unknown emails cost the same as bad passwords.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMye"), []byte(in.Password))
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if u.Status == UserDisabled {
		return nil, nil, ErrAccountDisabled
	}

	clinicID, clinicRole, err := s.resolveClinic(ctx, u, in.ClinicID)
	if err != nil {
		return nil, nil, err
	}

	if clinicID != uuid.Nil && u.AccountRole != auth.RoleSuperAdmin {
		if err := s.admitDevice(ctx, u, clinicID, in.Device); err != nil {
			return nil, nil, err
		}
	}

	pair, err := s.mintPair(ctx, u, clinicID, clinicRole)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// resolveClinic picks the clinic a login lands in: the requested one when
// it is a membership, otherwise the default membership, otherwise the
// first. Super admins may log in with no clinic at all.
func (s *Service) resolveClinic(ctx context.Context, u *User, requested *uuid.UUID) (uuid.UUID, string, error) {
	memberships, err := s.clinics.ListUserMemberships(ctx, u.ID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("list memberships: %w", err)
	}

	if requested != nil {
		for _, m := range memberships {
			if m.ClinicID == *requested {
				return m.ClinicID, m.Role, nil
			}
		}
		if u.AccountRole == auth.RoleSuperAdmin {
			return *requested, "", nil
		}
		return uuid.Nil, "", ErrNotMember
	}

	for _, m := range memberships {
		if m.IsDefault {
			return m.ClinicID, m.Role, nil
		}
	}
	if len(memberships) > 0 {
		return memberships[0].ClinicID, memberships[0].Role, nil
	}
	if u.AccountRole == auth.RoleSuperAdmin {
		return uuid.Nil, "", nil
	}
	return uuid.Nil, "", ErrNoClinic
}

// admitDevice enforces the clinic's device seat limit. A fingerprint the
// clinic has seen before is always admitted; a new one is refused once
// the distinct device count has reached the limit.
func (s *Service) admitDevice(ctx context.Context, u *User, clinicID uuid.UUID, info *DeviceInfo) error {
	if info == nil || info.Fingerprint == "" {
		return nil
	}
	d := &Device{
		UserID:      u.ID,
		ClinicID:    clinicID,
		Fingerprint: info.Fingerprint,
		UserAgent:   info.UserAgent,
	}
	if known, err := s.repo.GetDevice(ctx, clinicID, info.Fingerprint); err == nil {
		d.ID = known.ID
		return s.repo.UpsertDevice(ctx, d)
	}

	cl, err := s.clinics.GetClinic(ctx, clinicID)
	if err != nil {
		return fmt.Errorf("load clinic: %w", err)
	}
	count, err := s.repo.CountDevices(ctx, clinicID)
	if err != nil {
		return err
	}
	if count >= cl.DeviceLimit {
		return ErrDeviceLimit
	}
	return s.repo.UpsertDevice(ctx, d)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. Expired, revoked or unknown tokens are rejected.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	row, err := s.repo.GetRefreshToken(ctx, hashToken(rawToken))
	if err != nil || !row.Usable(time.Now()) {
		return nil, ErrInvalidRefresh
	}
	u, err := s.repo.GetUserByID(ctx, row.UserID)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	if u.Status == UserDisabled {
		return nil, ErrAccountDisabled
	}

	clinicID := uuid.Nil
	clinicRole := row.ClinicRole
	if row.ClinicID != nil {
		clinicID = *row.ClinicID
	}
	// Memberships can change between rotations; re-verify and fall back
	// to normal clinic resolution when the stored one is gone.
	if clinicID != uuid.Nil && u.AccountRole != auth.RoleSuperAdmin {
		if m, err := s.clinics.GetMembership(ctx, u.ID, clinicID); err == nil {
			clinicRole = m.Role
		} else {
			clinicID, clinicRole, err = s.resolveClinic(ctx, u, nil)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := s.repo.RevokeRefreshToken(ctx, row.ID); err != nil {
		return nil, err
	}
	return s.mintPair(ctx, u, clinicID, clinicRole)
}

// Logout revokes the presented refresh token. Unknown tokens are treated
// as already logged out.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	row, err := s.repo.GetRefreshToken(ctx, hashToken(rawToken))
	if err != nil {
		return nil
	}
	return s.repo.RevokeRefreshToken(ctx, row.ID)
}

// SwitchClinic moves the session to another clinic the user belongs to.
// The current refresh token is revoked so exactly one session chain per
// device stays live.
func (s *Service) SwitchClinic(ctx context.Context, userID, clinicID, sessionID uuid.UUID) (*TokenPair, error) {
	m, err := s.clinics.GetMembership(ctx, userID, clinicID)
	if err != nil {
		return nil, ErrNotMember
	}
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sessionID != uuid.Nil {
		if err := s.repo.RevokeRefreshToken(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return s.mintPair(ctx, u, clinicID, m.Role)
}

// BuildSession resolves the caller's session view from access token
// claims plus the effective clinic the middleware settled on.
func (s *Service) BuildSession(ctx context.Context, userID, activeClinic uuid.UUID, clinicRole string, viewAs bool) (*Session, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.clinics.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		User:           u,
		Memberships:    memberships,
		ActiveClinicID: activeClinic,
		ClinicRole:     clinicRole,
		ViewAs:         viewAs,
	}
	if activeClinic != uuid.Nil {
		if cl, err := s.clinics.GetClinic(ctx, activeClinic); err == nil {
			sess.SubscriptionStatus = cl.SubscriptionStatus
			sess.TrialEndsAt = cl.TrialEndsAt
		}
	}
	return sess, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every refresh token the user holds.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return err
	}
	return s.repo.RevokeUserTokens(ctx, userID)
}

// LookupUserByEmail resolves an email to a user id, for inviting staff.
func (s *Service) LookupUserByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

func (s *Service) ListDevices(ctx context.Context, clinicID uuid.UUID) ([]*Device, error) {
	return s.repo.ListDevices(ctx, clinicID)
}

func (s *Service) RevokeDevice(ctx context.Context, clinicID, id uuid.UUID) error {
	return s.repo.DeleteDevice(ctx, clinicID, id)
}

func (s *Service) mintPair(ctx context.Context, u *User, clinicID uuid.UUID, clinicRole string) (*TokenPair, error) {
	raw, err := randomToken()
	if err != nil {
		return nil, err
	}
	row := &RefreshToken{
		UserID:     u.ID,
		TokenHash:  hashToken(raw),
		ClinicRole: clinicRole,
		ExpiresAt:  time.Now().Add(s.refreshTTL),
	}
	if clinicID != uuid.Nil {
		id := clinicID
		row.ClinicID = &id
	}
	if err := s.repo.CreateRefreshToken(ctx, row); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	access, err := s.issuer.Mint(u.ID, u.AccountRole, clinicID, clinicRole, row.ID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int(s.issuer.TTL().Seconds()),
	}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
