// Package sandbox seeds a demo clinic with generated veterinary records
// for evaluation and development environments. Seeding runs through the
// regular domain services, so every record passes the same validation
// the API applies.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/whiskr/whiskr/internal/domain/billing"
	"github.com/whiskr/whiskr/internal/domain/clinic"
	"github.com/whiskr/whiskr/internal/domain/consult"
	"github.com/whiskr/whiskr/internal/domain/identity"
	"github.com/whiskr/whiskr/internal/domain/message"
	"github.com/whiskr/whiskr/internal/domain/patient"
	"github.com/whiskr/whiskr/internal/platform/auth"
	"github.com/whiskr/whiskr/internal/platform/db"
)

// SeedConfig controls how much demo data a seed run creates.
type SeedConfig struct {
	ClinicName            string `json:"clinic_name"`
	Password              string `json:"password"`
	Patients              int    `json:"patients"`
	MaxConsultsPerPatient int    `json:"max_consults_per_patient"`
	Messages              int    `json:"messages"`
	Seed                  int64  `json:"seed"`
}

// DefaultSeedConfig returns the profile used when no flags are set: a
// small clinic with enough history to demo every screen.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		ClinicName:            "Whiskr Demo Clinic",
		Password:              "whiskr-demo",
		Patients:              25,
		MaxConsultsPerPatient: 3,
		Messages:              12,
	}
}

// SeededUser records the login for one demo account.
type SeededUser struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// SeedResult reports what a seed run created.
type SeedResult struct {
	ClinicID    uuid.UUID     `json:"clinic_id"`
	ClinicName  string        `json:"clinic_name"`
	Users       []SeededUser  `json:"users"`
	Patients    int           `json:"patients"`
	Consults    int           `json:"consults"`
	Finalized   int           `json:"finalized"`
	Transcripts int           `json:"transcripts"`
	Invoices    int           `json:"invoices"`
	Payments    int           `json:"payments"`
	Messages    int           `json:"messages"`
	Duration    time.Duration `json:"duration_ns"`
}

// Accounts registers the demo staff.
type Accounts interface {
	Register(ctx context.Context, in identity.RegisterInput) (*identity.User, *identity.TokenPair, error)
}

// Clinics resolves the demo clinic and adds staff to it.
type Clinics interface {
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]*clinic.UserMembership, error)
	GetClinic(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	AddMembership(ctx context.Context, m *clinic.Membership) error
}

// Patients creates patient records.
type Patients interface {
	CreatePatient(ctx context.Context, p *patient.Patient) error
}

// Consults creates visit records and their transcripts.
type Consults interface {
	CreateConsult(ctx context.Context, c *consult.Consult) error
	FinalizeConsult(ctx context.Context, id uuid.UUID) (*consult.Consult, error)
	SaveTranscript(ctx context.Context, consultID uuid.UUID, content string, durationSeconds *int) (*consult.Transcript, error)
}

// Invoices bills finalized visits.
type Invoices interface {
	CreateInvoice(ctx context.Context, inv *billing.Invoice) error
	AddItem(ctx context.Context, invoiceID uuid.UUID, item *billing.InvoiceItem) error
	Issue(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	Pay(ctx context.Context, id uuid.UUID, amountCents int64, method string) (*billing.Payment, error)
}

// Messages fills the team pool.
type Messages interface {
	CreatePool(ctx context.Context, p *message.Pool) error
	PostMessage(ctx context.Context, poolID uuid.UUID, body string) (*message.Message, error)
}

// Services collects the domain services a seed run drives.
type Services struct {
	Accounts Accounts
	Clinics  Clinics
	Patients Patients
	Consults Consults
	Invoices Invoices
	Messages Messages
}

// ScopeFunc binds a context to one clinic the way the HTTP middleware
// does, so repository calls land in that clinic's schema. The release
// func frees whatever the scope holds.
type ScopeFunc func(ctx context.Context, cl *clinic.Clinic) (context.Context, func(), error)

// PoolScope returns a ScopeFunc that pins a pooled connection to the
// clinic's search path and stashes the keys the repositories read.
func PoolScope(pool *pgxpool.Pool) ScopeFunc {
	return func(ctx context.Context, cl *clinic.Clinic) (context.Context, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire conn: %w", err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", cl.SchemaName)); err != nil {
			conn.Release()
			return nil, nil, fmt.Errorf("set search_path: %w", err)
		}
		ctx = context.WithValue(ctx, db.ClinicIDKey, cl.ID)
		ctx = context.WithValue(ctx, db.DBConnKey, conn)
		return ctx, conn.Release, nil
	}
}

// Seeder provisions a demo clinic through the regular domain services.
type Seeder struct {
	cfg      SeedConfig
	gen      *Generator
	accounts Accounts
	clinics  Clinics
	patients Patients
	consults Consults
	invoices Invoices
	messages Messages
	scope    ScopeFunc
	logger   zerolog.Logger
}

func NewSeeder(cfg SeedConfig, svcs Services, scope ScopeFunc, logger zerolog.Logger) *Seeder {
	def := DefaultSeedConfig()
	if cfg.ClinicName == "" {
		cfg.ClinicName = def.ClinicName
	}
	if cfg.Password == "" {
		cfg.Password = def.Password
	}
	if cfg.Patients <= 0 {
		cfg.Patients = def.Patients
	}
	if cfg.MaxConsultsPerPatient <= 0 {
		cfg.MaxConsultsPerPatient = def.MaxConsultsPerPatient
	}
	if cfg.Messages <= 0 {
		cfg.Messages = def.Messages
	}
	return &Seeder{
		cfg:      cfg,
		gen:      NewGenerator(cfg.Seed),
		accounts: svcs.Accounts,
		clinics:  svcs.Clinics,
		patients: svcs.Patients,
		consults: svcs.Consults,
		invoices: svcs.Invoices,
		messages: svcs.Messages,
		scope:    scope,
		logger:   logger.With().Str("component", "sandbox").Logger(),
	}
}

// Run registers the demo staff, provisions the demo clinic and fills it
// with generated records. Running against a database that already holds
// the demo accounts fails with identity.ErrEmailTaken.
func (s *Seeder) Run(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	res := &SeedResult{}

	cl, staff, err := s.createStaff(ctx, res)
	if err != nil {
		return nil, err
	}
	res.ClinicID = cl.ID
	res.ClinicName = cl.Name
	s.logger.Info().Str("clinic", cl.Name).Str("clinic_id", cl.ID.String()).Msg("demo clinic created")

	scoped, release, err := s.scope(ctx, cl)
	if err != nil {
		return nil, fmt.Errorf("scope to clinic: %w", err)
	}
	defer release()
	// Clinical records are created as the founding vet.
	scoped = context.WithValue(scoped, auth.UserIDKey, staff[0].String())

	pts, err := s.seedPatients(scoped, res)
	if err != nil {
		return nil, err
	}
	finalized, err := s.seedConsults(scoped, pts, res)
	if err != nil {
		return nil, err
	}
	if err := s.seedInvoices(scoped, finalized, res); err != nil {
		return nil, err
	}
	if err := s.seedMessages(scoped, staff, res); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	s.logger.Info().
		Int("patients", res.Patients).
		Int("consults", res.Consults).
		Int("invoices", res.Invoices).
		Int("messages", res.Messages).
		Dur("took", res.Duration).
		Msg("seed complete")
	return res, nil
}

// createStaff registers the three demo accounts. The founder's
// registration creates the demo clinic itself; every account owns a
// workspace clinic, so the other two register their own and then join
// the demo clinic in their working role.
func (s *Seeder) createStaff(ctx context.Context, res *SeedResult) (*clinic.Clinic, []uuid.UUID, error) {
	staff := []struct {
		fullName string
		email    string
		role     string
	}{
		{"Dr. Priya Raman", "priya.raman@whiskr.example", auth.RoleVet},
		{"Jordan Wells", "jordan.wells@whiskr.example", auth.RoleVetTech},
		{"Casey Nguyen", "casey.nguyen@whiskr.example", auth.RoleReceptionist},
	}

	founder, _, err := s.accounts.Register(ctx, identity.RegisterInput{
		Email:      staff[0].email,
		Password:   s.cfg.Password,
		FullName:   staff[0].fullName,
		ClinicName: s.cfg.ClinicName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register %s: %w", staff[0].email, err)
	}
	memberships, err := s.clinics.ListUserMemberships(ctx, founder.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list founder memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil, fmt.Errorf("founder has no clinic membership")
	}
	cl, err := s.clinics.GetClinic(ctx, memberships[0].ClinicID)
	if err != nil {
		return nil, nil, fmt.Errorf("load demo clinic: %w", err)
	}

	ids := []uuid.UUID{founder.ID}
	res.Users = append(res.Users, SeededUser{
		Email: staff[0].email, FullName: staff[0].fullName,
		Role: staff[0].role, Password: s.cfg.Password,
	})

	for _, st := range staff[1:] {
		u, _, err := s.accounts.Register(ctx, identity.RegisterInput{
			Email:      st.email,
			Password:   s.cfg.Password,
			FullName:   st.fullName,
			ClinicName: st.fullName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("register %s: %w", st.email, err)
		}
		if err := s.clinics.AddMembership(ctx, &clinic.Membership{
			UserID: u.ID, ClinicID: cl.ID, Role: st.role,
		}); err != nil {
			return nil, nil, fmt.Errorf("add %s to demo clinic: %w", st.email, err)
		}
		ids = append(ids, u.ID)
		res.Users = append(res.Users, SeededUser{
			Email: st.email, FullName: st.fullName,
			Role: st.role, Password: s.cfg.Password,
		})
	}
	return cl, ids, nil
}

func (s *Seeder) seedPatients(ctx context.Context, res *SeedResult) ([]*patient.Patient, error) {
	pts := make([]*patient.Patient, 0, s.cfg.Patients)
	for i := 0; i < s.cfg.Patients; i++ {
		p := s.gen.GeneratePatient()
		if err := s.patients.CreatePatient(ctx, p); err != nil {
			return nil, fmt.Errorf("create patient %q: %w", p.Name, err)
		}
		pts = append(pts, p)
		res.Patients++
	}
	return pts, nil
}

// seedConsults gives each patient up to the configured number of visits.
// Half get a transcript, and the most recent visit sometimes stays in
// draft so the demo shows in-progress work.
func (s *Seeder) seedConsults(ctx context.Context, pts []*patient.Patient, res *SeedResult) ([]*consult.Consult, error) {
	var finalized []*consult.Consult
	for _, p := range pts {
		n := s.gen.Intn(s.cfg.MaxConsultsPerPatient + 1)
		for i := 0; i < n; i++ {
			c := s.gen.GenerateConsult(p)
			if err := s.consults.CreateConsult(ctx, c); err != nil {
				return nil, fmt.Errorf("create consult for %q: %w", p.Name, err)
			}
			res.Consults++

			if s.gen.Chance(50) {
				text, secs := s.gen.GenerateTranscript(p)
				if _, err := s.consults.SaveTranscript(ctx, c.ID, text, &secs); err != nil {
					return nil, fmt.Errorf("save transcript: %w", err)
				}
				res.Transcripts++
			}

			if i < n-1 || s.gen.Chance(70) {
				fc, err := s.consults.FinalizeConsult(ctx, c.ID)
				if err != nil {
					return nil, fmt.Errorf("finalize consult: %w", err)
				}
				res.Finalized++
				finalized = append(finalized, fc)
			}
		}
	}
	return finalized, nil
}

// seedInvoices bills most finalized visits, issues most of those and
// pays some in full, leaving a spread of draft, open and paid invoices.
func (s *Seeder) seedInvoices(ctx context.Context, finalized []*consult.Consult, res *SeedResult) error {
	for _, c := range finalized {
		if !s.gen.Chance(70) {
			continue
		}
		inv := &billing.Invoice{PatientID: c.PatientID, ConsultID: &c.ID}
		if err := s.invoices.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		for _, item := range s.gen.GenerateInvoiceItems(c.VisitType) {
			if err := s.invoices.AddItem(ctx, inv.ID, item); err != nil {
				return fmt.Errorf("add invoice item: %w", err)
			}
		}
		res.Invoices++

		if !s.gen.Chance(80) {
			continue
		}
		issued, err := s.invoices.Issue(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("issue invoice: %w", err)
		}
		if s.gen.Chance(65) {
			method := billing.MethodCard
			if s.gen.Chance(30) {
				method = billing.MethodCash
			}
			if _, err := s.invoices.Pay(ctx, issued.ID, issued.TotalCents, method); err != nil {
				return fmt.Errorf("pay invoice: %w", err)
			}
			res.Payments++
		}
	}
	return nil
}

// seedMessages opens a general pool and posts chatter from rotating
// staff senders.
func (s *Seeder) seedMessages(ctx context.Context, staff []uuid.UUID, res *SeedResult) error {
	pool := &message.Pool{Name: "Front Desk", Kind: message.PoolGeneral}
	if err := s.messages.CreatePool(ctx, pool); err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	for i := 0; i < s.cfg.Messages; i++ {
		sender := staff[s.gen.Intn(len(staff))]
		mctx := context.WithValue(ctx, auth.UserIDKey, sender.String())
		if _, err := s.messages.PostMessage(mctx, pool.ID, s.gen.GenerateMessage()); err != nil {
			return fmt.Errorf("post message: %w", err)
		}
		res.Messages++
	}
	return nil
}
