package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"scolara.org/internal/apperr"
	"scolara.org/internal/audit"
	"scolara.org/internal/auth"
	"scolara.org/internal/ids"
	"scolara.org/internal/notify"
	"scolara.org/internal/obs"
	"scolara.org/internal/tenant"
)

// Service is the ledger state machine. Every mutating entry point resolves
// the caller's role and tenant first, validates the payload, then delegates
// the atomic mutation to the Store.
type Service struct {
	store   Store
	perms   *auth.Resolver
	tenants *tenant.Resolver
	mailer  notify.Mailer
	now     func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithMailer enables best-effort receipt emails.
func WithMailer(m notify.Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithClock overrides the time source. Test use only.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the ledger service.
func NewService(store Store, perms *auth.Resolver, tenants *tenant.Resolver, opts ...Option) *Service {
	s := &Service{
		store:   store,
		perms:   perms,
		tenants: tenants,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePaiementInput is the createPaiement payload. EcoleID is the optional
// super-admin cross-tenant target; regular callers always operate on their
// own school.
type CreatePaiementInput struct {
	EleveID      string
	Mois         string
	MontantTotal int64
	MontantPaye  int64
	DatePaiement string
	EcoleID      string
}

// CreatePaiement creates the monthly obligation for a student. Preconditions
// are checked in order; the first failure wins.
func (s *Service) CreatePaiement(ctx context.Context, in CreatePaiementInput) (*Paiement, error) {
	uid, _ := auth.UserIDFromContext(ctx)
	if err := apperr.RequireAuthenticated(uid); err != nil {
		return nil, err
	}
	if err := apperr.RequirePermission(s.perms.IsAdminOrManager(ctx, uid), "admin or gestionnaire required"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.EleveID != "", "eleveId is required"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.Mois != "", "mois is required"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(IsValidDate(in.DatePaiement), "datePaiement must be a valid YYYY-MM-DD date"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(IsValidMois(in.Mois), "mois must be YYYY-MM"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.MontantTotal >= 0 && in.MontantPaye >= 0, "montants must be non-negative"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.MontantPaye <= in.MontantTotal, "montantPaye cannot exceed montantTotal"); err != nil {
		return nil, err
	}

	ecoleID, err := s.tenants.EcoleIDOrSuper(ctx, uid, in.EcoleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindEleve(ctx, ecoleID, in.EleveID); err != nil {
		return nil, apperr.WrapUnexpected(err, "eleve lookup failed")
	}
	exists, err := s.store.HasPaiement(ctx, in.EleveID, in.Mois)
	if err != nil {
		return nil, apperr.WrapUnexpected(err, "paiement lookup failed")
	}
	if exists {
		return nil, apperr.New(apperr.AlreadyExists, "paiement already exists for this month")
	}

	// Display sequence; not transactional with the insert, so two concurrent
	// creations in the same month can collide. The enforced uniqueness key
	// is (eleve, mois), not the reference string.
	seq, err := s.store.CountPaiements(ctx, ecoleID, in.Mois)
	if err != nil {
		return nil, apperr.WrapUnexpected(err, "reference sequence failed")
	}

	restant := in.MontantTotal - in.MontantPaye
	p := &Paiement{
		ID:             ids.New(),
		EcoleID:        ecoleID,
		EleveID:        in.EleveID,
		Mois:           in.Mois,
		MontantTotal:   in.MontantTotal,
		MontantPaye:    in.MontantPaye,
		MontantRestant: restant,
		Statut:         DeriveStatut(in.MontantTotal, in.MontantPaye),
		Reference:      FormatReference(in.Mois, seq+1),
		DatePaiement:   in.DatePaiement,
		CreePar:        uid,
		CreatedAt:      s.now().UTC(),
	}
	// An amount already paid at creation is recorded as an opening
	// installment so the installment sum always equals montantPaye.
	if in.MontantPaye > 0 {
		p.Versements = append(p.Versements, Versement{
			ID:            ids.New(),
			Montant:       in.MontantPaye,
			Methode:       MethodeEspeces,
			DateVersement: in.DatePaiement,
			EnregistrePar: uid,
			CreatedAt:     p.CreatedAt,
		})
	}

	flag := FlagNonAJour
	if restant == 0 {
		flag = FlagAJour
	}

	entry := &audit.Entry{
		Actor:        uid,
		EcoleID:      ecoleID,
		Action:       "paiement.create",
		ResourceType: "paiement",
		ResourceID:   p.ID,
		Metadata: map[string]string{
			"eleve_id":      in.EleveID,
			"mois":          in.Mois,
			"montant_total": strconv.FormatInt(in.MontantTotal, 10),
			"montant_paye":  strconv.FormatInt(in.MontantPaye, 10),
			"reference":     p.Reference,
		},
	}
	if err := s.store.InsertPaiement(ctx, p, flag, entry); err != nil {
		return nil, apperr.WrapUnexpected(err, "paiement could not be created")
	}

	obs.PaiementsCreated.Inc()
	_ = audit.LogEvent(ctx, "paiement.create", map[string]any{
		"paiement_id": p.ID,
		"eleve_id":    in.EleveID,
		"mois":        in.Mois,
		"reference":   p.Reference,
	})
	return p, nil
}

// AjouterVersementInput is the ajouterVersement payload.
type AjouterVersementInput struct {
	PaiementID   string
	Montant      int64
	Methode      Methode
	DatePaiement string
	EcoleID      string
}

// AjouterVersement records one installment against an obligation. The
// read-check-write runs as a single storage transaction; see Store.
func (s *Service) AjouterVersement(ctx context.Context, in AjouterVersementInput) (*Paiement, error) {
	uid, _ := auth.UserIDFromContext(ctx)
	if err := apperr.RequireAuthenticated(uid); err != nil {
		return nil, err
	}
	if err := apperr.RequirePermission(s.perms.IsAdminOrManager(ctx, uid), "admin or gestionnaire required"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.PaiementID != "", "paiementId is required"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(in.Montant > 0, "montant must be strictly positive"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(ValidMethode(in.Methode), "methode must be one of especes, mobile_money, virement, cheque"); err != nil {
		return nil, err
	}
	if err := apperr.RequireArgument(IsValidDate(in.DatePaiement), "datePaiement must be a valid YYYY-MM-DD date"); err != nil {
		return nil, err
	}

	ecoleID, err := s.tenants.EcoleIDOrSuper(ctx, uid, in.EcoleID)
	if err != nil {
		return nil, err
	}

	v := &Versement{
		ID:            ids.New(),
		Montant:       in.Montant,
		Methode:       in.Methode,
		DateVersement: in.DatePaiement,
		EnregistrePar: uid,
		CreatedAt:     s.now().UTC(),
	}
	entry := &audit.Entry{
		Actor:        uid,
		EcoleID:      ecoleID,
		Action:       "paiement.versement",
		ResourceType: "paiement",
		ResourceID:   in.PaiementID,
		Metadata: map[string]string{
			"montant": strconv.FormatInt(in.Montant, 10),
			"methode": string(in.Methode),
			"date":    in.DatePaiement,
		},
	}

	p, err := s.store.ApplyVersement(ctx, ecoleID, in.PaiementID, v, entry)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.InvalidArgument:
			obs.VersementsRejected.WithLabelValues("overpayment").Inc()
		case apperr.NotFound:
			obs.VersementsRejected.WithLabelValues("not_found").Inc()
		}
		return nil, apperr.WrapUnexpected(err, "versement could not be recorded")
	}

	obs.VersementsApplied.Inc()
	_ = audit.LogEvent(ctx, "paiement.versement", map[string]any{
		"paiement_id": p.ID,
		"montant":     in.Montant,
		"statut":      string(p.Statut),
	})

	if p.Statut == StatutPaye {
		s.sendReceipt(ctx, p)
	}
	return p, nil
}

// GetPaiement returns one obligation. Cross-tenant ids report NotFound, never
// PermissionDenied, so existence does not leak across schools.
func (s *Service) GetPaiement(ctx context.Context, paiementID, targetEcoleID string) (*Paiement, error) {
	uid, _ := auth.UserIDFromContext(ctx)
	if err := apperr.RequireAuthenticated(uid); err != nil {
		return nil, err
	}
	if err := apperr.RequirePermission(s.perms.IsStaff(ctx, uid), "staff required"); err != nil {
		return nil, err
	}
	ecoleID, err := s.tenants.EcoleIDOrSuper(ctx, uid, targetEcoleID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.FindPaiement(ctx, ecoleID, paiementID)
	if err != nil {
		return nil, apperr.WrapUnexpected(err, "paiement lookup failed")
	}
	return p, nil
}

// StatsMensuel aggregates the caller's school for the given month, defaulting
// to the current one.
func (s *Service) StatsMensuel(ctx context.Context, mois, targetEcoleID string) (*Stats, error) {
	uid, _ := auth.UserIDFromContext(ctx)
	if err := apperr.RequireAuthenticated(uid); err != nil {
		return nil, err
	}
	if err := apperr.RequirePermission(s.perms.HasPermission(ctx, uid, auth.PermViewRapports), "reporting permission required"); err != nil {
		return nil, err
	}
	if mois == "" {
		mois = CurrentMois(s.now())
	}
	if err := apperr.RequireArgument(IsValidMois(mois), "mois must be YYYY-MM"); err != nil {
		return nil, err
	}
	ecoleID, err := s.tenants.EcoleIDOrSuper(ctx, uid, targetEcoleID)
	if err != nil {
		return nil, err
	}
	st, err := s.store.StatsMensuel(ctx, ecoleID, mois)
	if err != nil {
		return nil, apperr.WrapUnexpected(err, "stats aggregation failed")
	}
	return st, nil
}

// ResetReport summarizes one monthly reset run.
type ResetReport struct {
	Ecoles   int `json:"ecoles"`
	Eleves   int `json:"eleves"`
	Failures int `json:"failures"`
}

// ResetMensuel is the scheduler-triggered fresh-month reset: every student of
// every tenant goes back to non_a_jour, in bounded batches, one audit entry
// per tenant. A failing tenant is logged and skipped; prior tenants stand.
// Idempotent: re-running rewrites the same flag values.
func (s *Service) ResetMensuel(ctx context.Context) (*ResetReport, error) {
	ecoles, err := s.store.Ecoles(ctx)
	if err != nil {
		return nil, apperr.WrapUnexpected(err, "tenant listing failed")
	}

	report := &ResetReport{}
	mois := CurrentMois(s.now())
	for _, ecole := range ecoles {
		n, err := s.store.ResetStatutMensuel(ctx, ecole.ID, MaxBatchSize)
		if err != nil {
			report.Failures++
			obs.LogError(fmt.Sprintf("monthly reset failed for ecole %s", ecole.ID), err)
			continue
		}
		report.Ecoles++
		report.Eleves += n
		obs.ResetEleves.Add(float64(n))

		entry := &audit.Entry{
			EcoleID:      ecole.ID,
			Action:       "paiements.reset",
			ResourceType: "ecole",
			ResourceID:   ecole.ID,
			Metadata: map[string]string{
				"mois":   mois,
				"eleves": strconv.Itoa(n),
			},
		}
		if err := s.store.Append(ctx, entry); err != nil {
			obs.LogError("monthly reset audit append failed", err)
		}
	}
	return report, nil
}

// sendReceipt emails a settlement receipt. Best effort: failures are logged
// and never surface to the caller.
func (s *Service) sendReceipt(ctx context.Context, p *Paiement) {
	if s.mailer == nil {
		return
	}
	eleve, err := s.store.FindEleve(ctx, p.EcoleID, p.EleveID)
	if err != nil || eleve.Email == "" {
		return
	}
	msg := notify.Message{
		To:      eleve.Email,
		Subject: fmt.Sprintf("Paiement %s regle", p.Mois),
		Body: fmt.Sprintf("Le paiement %s (%s) est entierement regle. Montant: %d.",
			p.Reference, p.Mois, p.MontantTotal),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		obs.LogError("receipt email failed", err)
	}
}
