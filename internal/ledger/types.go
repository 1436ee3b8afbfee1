// Package ledger implements the payment obligation ledger: monthly payment
// obligations per student, transactional installment application, derived
// payment status and the denormalized per-student payment flag.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Statut is the derived payment state of an obligation. It is a pure function
// of the amounts, never stored independently of them.
type Statut string

const (
	StatutImpaye  Statut = "impaye"
	StatutPartiel Statut = "partiel"
	StatutPaye    Statut = "paye"
)

// DeriveStatut derives the three-way status from the amounts. Checked in
// order: zero paid wins over equality, so a zero-amount obligation is impaye.
func DeriveStatut(montantTotal, montantPaye int64) Statut {
	switch {
	case montantPaye == 0:
		return StatutImpaye
	case montantPaye < montantTotal:
		return StatutPartiel
	default:
		return StatutPaye
	}
}

// FlagPaiement is the denormalized per-student payment flag. It is a read
// optimization for admission gating, recomputed by every ledger mutation and
// reset monthly; it is never the source of truth for billing correctness.
type FlagPaiement string

const (
	FlagAJour    FlagPaiement = "a_jour"
	FlagNonAJour FlagPaiement = "non_a_jour"
)

// Methode enumerates accepted payment methods.
type Methode string

const (
	MethodeEspeces     Methode = "especes"
	MethodeMobileMoney Methode = "mobile_money"
	MethodeVirement    Methode = "virement"
	MethodeCheque      Methode = "cheque"
)

// ValidMethode reports whether m is one of the four accepted methods.
func ValidMethode(m Methode) bool {
	switch m {
	case MethodeEspeces, MethodeMobileMoney, MethodeVirement, MethodeCheque:
		return true
	}
	return false
}

// Ecole is the tenant. All domain entities carry its id.
type Ecole struct {
	ID        string    `json:"id"`
	Nom       string    `json:"nom"`
	Actif     bool      `json:"actif"`
	Plan      string    `json:"plan,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Eleve is a student enrolled in a school.
type Eleve struct {
	ID      string `json:"id"`
	EcoleID string `json:"ecole_id"`
	Nom     string `json:"nom"`
	Prenom  string `json:"prenom"`
	Classe  string `json:"classe,omitempty"`
	Statut  string `json:"statut"`
	Email   string `json:"email,omitempty"`

	StatutPaiementMensuel FlagPaiement `json:"statut_paiement_mensuel"`
	DernierMoisPaye       string       `json:"dernier_mois_paye,omitempty"`

	Banni             bool   `json:"banni"`
	MotifBannissement string `json:"motif_bannissement,omitempty"`
}

const EleveStatutActif = "actif"

// Versement is one recorded installment applied to an obligation.
// Append-only.
type Versement struct {
	ID            string    `json:"id"`
	Montant       int64     `json:"montant"`
	Methode       Methode   `json:"methode"`
	DateVersement string    `json:"date_versement"`
	EnregistrePar string    `json:"enregistre_par"`
	CreatedAt     time.Time `json:"created_at"`
}

// Paiement is one student's billing obligation for one calendar month.
// Amounts are int64 minor units; no floats in money paths.
type Paiement struct {
	ID      string `json:"id"`
	EcoleID string `json:"ecole_id"`
	EleveID string `json:"eleve_id"`
	Mois    string `json:"mois"` // YYYY-MM, unique per (eleve, mois)

	MontantTotal   int64  `json:"montant_total"`
	MontantPaye    int64  `json:"montant_paye"`
	MontantRestant int64  `json:"montant_restant"`
	Statut         Statut `json:"statut"`

	Reference    string      `json:"reference"`
	DatePaiement string      `json:"date_paiement"` // date of the most recent installment
	Versements   []Versement `json:"versements"`

	CreePar   string    `json:"cree_par"`
	CreatedAt time.Time `json:"created_at"`
}

// FormatReference builds the human-readable monthly reference,
// e.g. PAY-202403-0007. Display convenience only: the enforced uniqueness
// key is (eleve, mois), and the sequence may collide under concurrency.
func FormatReference(mois string, seq int) string {
	return fmt.Sprintf("PAY-%s-%04d", strings.ReplaceAll(mois, "-", ""), seq)
}

// Stats is the monthly coverage aggregate for one school.
type Stats struct {
	Mois           string          `json:"mois"`
	TotalEleves    int             `json:"totalEleves"`
	ElevesAJour    int             `json:"elevesAJour"`
	ElevesNonAJour int             `json:"elevesNonAJour"`
	TotalPaye      int64           `json:"totalPaye"`
	TotalAttendu   int64           `json:"totalAttendu"`
	TauxCouverture decimal.Decimal `json:"tauxCouverture"`
}

// CoverageRate computes paye/attendu as a percentage with two decimal places.
// Zero when nothing is expected.
func CoverageRate(totalPaye, totalAttendu int64) decimal.Decimal {
	if totalAttendu <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(totalPaye).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(totalAttendu), 2)
}
