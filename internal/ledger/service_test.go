package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scolara.org/internal/apperr"
	"scolara.org/internal/auth"
	"scolara.org/internal/notify"
	"scolara.org/internal/tenant"
)

type fixture struct {
	store *InMemory
	users *auth.InMemoryUsers
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := auth.NewInMemoryUsers()
	users.Put(&auth.User{ID: "u-admin", EcoleID: "s1", Role: auth.RoleAdmin})
	users.Put(&auth.User{ID: "u-gest", EcoleID: "s1", Role: auth.RoleGestionnaire})
	users.Put(&auth.User{ID: "u-prof", EcoleID: "s1", Role: auth.RoleProf})
	users.Put(&auth.User{ID: "u-eleve", EcoleID: "s1", Role: auth.RoleEleve})
	users.Put(&auth.User{ID: "u-gest2", EcoleID: "s2", Role: auth.RoleGestionnaire})
	users.Put(&auth.User{ID: "u-super", EcoleID: "s2", Role: auth.RoleAdmin})
	users.SetSuperAdmin("u-super")

	store := NewInMemory()
	store.PutEcole(&Ecole{ID: "s1", Nom: "Ecole Un", Actif: true})
	store.PutEcole(&Ecole{ID: "s2", Nom: "Ecole Deux", Actif: true})
	store.PutEleve(&Eleve{ID: "e1", EcoleID: "s1", Nom: "Diallo", Prenom: "Awa", Statut: EleveStatutActif})
	store.PutEleve(&Eleve{ID: "e2", EcoleID: "s1", Nom: "Traore", Prenom: "Moussa", Statut: EleveStatutActif})
	store.PutEleve(&Eleve{ID: "e3", EcoleID: "s2", Nom: "Kone", Prenom: "Fatou", Statut: EleveStatutActif})

	clock := func() time.Time { return time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC) }
	svc := NewService(store, auth.NewResolver(users), tenant.NewResolver(users), WithClock(clock))
	return &fixture{store: store, users: users, svc: svc}
}

func as(userID string) context.Context {
	return auth.ContextWithUser(context.Background(), userID)
}

func TestCreatePaiement(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		DatePaiement: "2024-03-15",
	})
	require.NoError(t, err)
	assert.Equal(t, StatutImpaye, p.Statut)
	assert.Equal(t, int64(10000), p.MontantRestant)
	assert.Equal(t, "PAY-202403-0001", p.Reference)
	assert.Empty(t, p.Versements)

	eleve, err := f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, FlagNonAJour, eleve.StatutPaiementMensuel)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "paiement.create", entries[0].Action)
	assert.Equal(t, "u-gest", entries[0].Actor)
	assert.Equal(t, p.ID, entries[0].ResourceID)
}

func TestCreatePaiementWithOpeningInstallment(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-admin"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		MontantPaye:  4000,
		DatePaiement: "2024-03-15",
	})
	require.NoError(t, err)
	assert.Equal(t, StatutPartiel, p.Statut)
	require.Len(t, p.Versements, 1)
	assert.Equal(t, int64(4000), p.Versements[0].Montant)
	assert.Equal(t, "u-admin", p.Versements[0].EnregistrePar)
}

func TestCreatePaiementFullyPaidMarksAJour(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		MontantPaye:  10000,
		DatePaiement: "2024-03-15",
	})
	require.NoError(t, err)
	assert.Equal(t, StatutPaye, p.Statut)

	eleve, err := f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, FlagAJour, eleve.StatutPaiementMensuel)
	assert.Equal(t, "2024-03", eleve.DernierMoisPaye)
}

func TestCreatePaiementDuplicateMonth(t *testing.T) {
	f := newFixture(t)

	in := CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		DatePaiement: "2024-03-15",
	}
	_, err := f.svc.CreatePaiement(as("u-gest"), in)
	require.NoError(t, err)

	_, err = f.svc.CreatePaiement(as("u-gest"), in)
	assert.Equal(t, apperr.AlreadyExists, apperr.KindOf(err))
}

func TestCreatePaiementValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		in   CreatePaiementInput
		kind apperr.Kind
	}{
		{"missing eleve", CreatePaiementInput{Mois: "2024-03", MontantTotal: 1, DatePaiement: "2024-03-15"}, apperr.InvalidArgument},
		{"bad mois", CreatePaiementInput{EleveID: "e1", Mois: "2024-13", MontantTotal: 1, DatePaiement: "2024-03-15"}, apperr.InvalidArgument},
		{"bad date", CreatePaiementInput{EleveID: "e1", Mois: "2024-03", MontantTotal: 1, DatePaiement: "2024-02-30"}, apperr.InvalidArgument},
		{"negative total", CreatePaiementInput{EleveID: "e1", Mois: "2024-03", MontantTotal: -1, DatePaiement: "2024-03-15"}, apperr.InvalidArgument},
		{"paye over total", CreatePaiementInput{EleveID: "e1", Mois: "2024-03", MontantTotal: 100, MontantPaye: 200, DatePaiement: "2024-03-15"}, apperr.InvalidArgument},
		{"unknown eleve", CreatePaiementInput{EleveID: "ghost", Mois: "2024-03", MontantTotal: 1, DatePaiement: "2024-03-15"}, apperr.NotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.svc.CreatePaiement(as("u-gest"), c.in)
			assert.Equal(t, c.kind, apperr.KindOf(err))
		})
	}
}

func TestCreatePaiementAccessControl(t *testing.T) {
	f := newFixture(t)

	in := CreatePaiementInput{EleveID: "e1", Mois: "2024-03", MontantTotal: 1, DatePaiement: "2024-03-15"}

	_, err := f.svc.CreatePaiement(context.Background(), in)
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))

	for _, uid := range []string{"u-prof", "u-eleve"} {
		_, err = f.svc.CreatePaiement(as(uid), in)
		assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err), uid)
	}

	// Unknown caller id fails closed as a permission denial, not a lookup error.
	_, err = f.svc.CreatePaiement(as("ghost"), in)
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))
}

func TestVersementLifecycle(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	p, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID:   p.ID,
		Montant:      4000,
		Methode:      MethodeEspeces,
		DatePaiement: "2024-03-10",
	})
	require.NoError(t, err)
	assert.Equal(t, StatutPartiel, p.Statut)
	assert.Equal(t, int64(6000), p.MontantRestant)
	assert.Equal(t, "2024-03-10", p.DatePaiement)

	p, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID:   p.ID,
		Montant:      6000,
		Methode:      MethodeMobileMoney,
		DatePaiement: "2024-03-20",
	})
	require.NoError(t, err)
	assert.Equal(t, StatutPaye, p.Statut)
	assert.Equal(t, int64(0), p.MontantRestant)
	require.Len(t, p.Versements, 2)

	eleve, err := f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, FlagAJour, eleve.StatutPaiementMensuel)
	assert.Equal(t, "2024-03", eleve.DernierMoisPaye)

	// Settled obligation accepts nothing further.
	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID:   p.ID,
		Montant:      1,
		Methode:      MethodeEspeces,
		DatePaiement: "2024-03-21",
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err), "0 remaining")
}

func TestVersementOverpaymentWritesNothing(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		MontantPaye:  4000,
		DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID:   p.ID,
		Montant:      6001,
		Methode:      MethodeVirement,
		DatePaiement: "2024-03-10",
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err), "6000 remaining")

	got, err := f.store.FindPaiement(context.Background(), "s1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.MontantPaye)
	assert.Equal(t, StatutPartiel, got.Statut)
	require.Len(t, got.Versements, 1)
}

func TestVersementValidation(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID:      "e1",
		Mois:         "2024-03",
		MontantTotal: 10000,
		DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   AjouterVersementInput
	}{
		{"zero montant", AjouterVersementInput{PaiementID: p.ID, Montant: 0, Methode: MethodeEspeces, DatePaiement: "2024-03-10"}},
		{"negative montant", AjouterVersementInput{PaiementID: p.ID, Montant: -5, Methode: MethodeEspeces, DatePaiement: "2024-03-10"}},
		{"bad methode", AjouterVersementInput{PaiementID: p.ID, Montant: 100, Methode: "bitcoin", DatePaiement: "2024-03-10"}},
		{"bad date", AjouterVersementInput{PaiementID: p.ID, Montant: 100, Methode: MethodeEspeces, DatePaiement: "10/03/2024"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.svc.AjouterVersement(as("u-gest"), c.in)
			assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
		})
	}
}

func TestBanClearsOnlyWhenAllSettled(t *testing.T) {
	f := newFixture(t)

	p1, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-02", MontantTotal: 5000, DatePaiement: "2024-02-01",
	})
	require.NoError(t, err)
	p2, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 5000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	f.store.PutEleve(&Eleve{
		ID: "e1", EcoleID: "s1", Nom: "Diallo", Prenom: "Awa", Statut: EleveStatutActif,
		Banni: true, MotifBannissement: "impayes",
	})

	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID: p1.ID, Montant: 5000, Methode: MethodeEspeces, DatePaiement: "2024-03-05",
	})
	require.NoError(t, err)

	eleve, err := f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.True(t, eleve.Banni, "ban must survive while another obligation is outstanding")
	assert.Equal(t, FlagNonAJour, eleve.StatutPaiementMensuel)

	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID: p2.ID, Montant: 5000, Methode: MethodeEspeces, DatePaiement: "2024-03-06",
	})
	require.NoError(t, err)

	eleve, err = f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	assert.False(t, eleve.Banni)
	assert.Empty(t, eleve.MotifBannissement)
	assert.Equal(t, FlagAJour, eleve.StatutPaiementMensuel)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 10000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	// Another school's gestionnaire sees NotFound, never PermissionDenied.
	_, err = f.svc.GetPaiement(as("u-gest2"), p.ID, "")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = f.svc.AjouterVersement(as("u-gest2"), AjouterVersementInput{
		PaiementID: p.ID, Montant: 100, Methode: MethodeEspeces, DatePaiement: "2024-03-10",
	})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	// A regular caller naming another school is pinned to their own.
	_, err = f.svc.GetPaiement(as("u-gest2"), p.ID, "s1")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	// The super admin can target the school explicitly.
	got, err := f.svc.GetPaiement(as("u-super"), p.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestGetPaiementAccess(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 10000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	// Staff read includes teachers.
	got, err := f.svc.GetPaiement(as("u-prof"), p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, p.Reference, got.Reference)

	_, err = f.svc.GetPaiement(as("u-eleve"), p.ID, "")
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))
}

func TestStatsMensuel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 10000, MontantPaye: 10000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)
	_, err = f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e2", Mois: "2024-03", MontantTotal: 10000, MontantPaye: 2500, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	st, err := f.svc.StatsMensuel(as("u-gest"), "2024-03", "")
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalEleves)
	assert.Equal(t, 1, st.ElevesAJour)
	assert.Equal(t, 1, st.ElevesNonAJour)
	assert.Equal(t, int64(12500), st.TotalPaye)
	assert.Equal(t, int64(20000), st.TotalAttendu)
	assert.Equal(t, "62.5", st.TauxCouverture.String())

	// Empty mois defaults to the clock's current month.
	st, err = f.svc.StatsMensuel(as("u-gest"), "", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03", st.Mois)

	_, err = f.svc.StatsMensuel(as("u-gest"), "03-2024", "")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	// prof lacks VIEW_RAPPORTS by default.
	_, err = f.svc.StatsMensuel(as("u-prof"), "2024-03", "")
	assert.Equal(t, apperr.PermissionDenied, apperr.KindOf(err))
}

func TestResetMensuel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 5000, MontantPaye: 5000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	eleve, err := f.store.FindEleve(context.Background(), "s1", "e1")
	require.NoError(t, err)
	require.Equal(t, FlagAJour, eleve.StatutPaiementMensuel)

	report, err := f.svc.ResetMensuel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ecoles)
	assert.Equal(t, 3, report.Eleves)
	assert.Equal(t, 0, report.Failures)

	for _, id := range []string{"e1", "e2"} {
		e, err := f.store.FindEleve(context.Background(), "s1", id)
		require.NoError(t, err)
		assert.Equal(t, FlagNonAJour, e.StatutPaiementMensuel, id)
	}
	e3, err := f.store.FindEleve(context.Background(), "s2", "e3")
	require.NoError(t, err)
	assert.Equal(t, FlagNonAJour, e3.StatutPaiementMensuel)

	var resets int
	for _, entry := range f.store.AuditEntries() {
		if entry.Action == "paiements.reset" {
			resets++
		}
	}
	assert.Equal(t, 2, resets, "one audit entry per school")

	// Re-running is harmless.
	report, err = f.svc.ResetMensuel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Eleves)
}

func TestResetMensuelSkipsInactiveEcoles(t *testing.T) {
	f := newFixture(t)
	f.store.PutEcole(&Ecole{ID: "s3", Nom: "Ecole Fermee", Actif: false})
	f.store.PutEleve(&Eleve{ID: "e9", EcoleID: "s3", Nom: "Sall", Prenom: "Omar",
		StatutPaiementMensuel: FlagAJour})

	ecoles, err := f.store.Ecoles(context.Background())
	require.NoError(t, err)
	for _, e := range ecoles {
		assert.NotEqual(t, "s3", e.ID, "inactive school must not be listed")
	}

	report, err := f.svc.ResetMensuel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ecoles)

	e9, err := f.store.FindEleve(context.Background(), "s3", "e9")
	require.NoError(t, err)
	assert.Equal(t, FlagAJour, e9.StatutPaiementMensuel, "closed school left untouched")
}

type recordingMailer struct {
	to []string
}

func (m *recordingMailer) Send(ctx context.Context, msg notify.Message) error {
	m.to = append(m.to, msg.To)
	return nil
}

func TestReceiptSentOnSettlement(t *testing.T) {
	f := newFixture(t)
	mailer := &recordingMailer{}
	f.svc.mailer = mailer

	f.store.PutEleve(&Eleve{
		ID: "e1", EcoleID: "s1", Nom: "Diallo", Prenom: "Awa",
		Statut: EleveStatutActif, Email: "awa@example.org",
	})

	p, err := f.svc.CreatePaiement(as("u-gest"), CreatePaiementInput{
		EleveID: "e1", Mois: "2024-03", MontantTotal: 5000, DatePaiement: "2024-03-01",
	})
	require.NoError(t, err)

	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID: p.ID, Montant: 2000, Methode: MethodeEspeces, DatePaiement: "2024-03-05",
	})
	require.NoError(t, err)
	assert.Empty(t, mailer.to, "no receipt while partially paid")

	_, err = f.svc.AjouterVersement(as("u-gest"), AjouterVersementInput{
		PaiementID: p.ID, Montant: 3000, Methode: MethodeEspeces, DatePaiement: "2024-03-06",
	})
	require.NoError(t, err)
	require.Len(t, mailer.to, 1)
	assert.Equal(t, "awa@example.org", mailer.to[0])
}
