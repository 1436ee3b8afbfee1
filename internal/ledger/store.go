package ledger

import (
	"context"

	"scolara.org/internal/audit"
)

// MaxBatchSize bounds a single batched write against the storage layer.
// The monthly reset chunks student updates to this size.
const MaxBatchSize = 500

// Store describes the persistence operations the ledger needs. Implementations
// guarantee the atomicity documented on each method and report failures as
// typed apperr errors where a kind is meaningful to callers.
type Store interface {
	// FindEleve returns the student scoped to the school. A student that
	// exists under another school reports NotFound, indistinguishable from
	// a truly absent one.
	FindEleve(ctx context.Context, ecoleID, eleveID string) (*Eleve, error)

	// FindPaiement returns the obligation scoped to the school, with its
	// installment list. NotFound covers cross-tenant ids.
	FindPaiement(ctx context.Context, ecoleID, paiementID string) (*Paiement, error)

	// HasPaiement reports whether an obligation exists for (eleve, mois).
	HasPaiement(ctx context.Context, eleveID, mois string) (bool, error)

	// CountPaiements counts the school's obligations for the month. Feeds
	// the display reference sequence; deliberately not transactional with
	// InsertPaiement.
	CountPaiements(ctx context.Context, ecoleID, mois string) (int, error)

	// InsertPaiement persists a new obligation, updates the student's
	// denormalized flag (and last settled month when flag is a_jour) and
	// appends the audit entry, atomically. A concurrent duplicate for the
	// same (eleve, mois) reports AlreadyExists.
	InsertPaiement(ctx context.Context, p *Paiement, flag FlagPaiement, entry *audit.Entry) error

	// ApplyVersement applies one installment as a single transaction:
	// re-reads the obligation under lock, enforces the overpayment guard
	// (InvalidArgument reporting the remaining balance, nothing written),
	// and appends the installment, rederiving amounts and status. When the
	// obligation settles and the student has no other unsettled obligation,
	// the ban is cleared and the student marked a_jour. The audit
	// entry commits with the same transaction. Serialization conflicts are
	// retried internally.
	ApplyVersement(ctx context.Context, ecoleID, paiementID string, v *Versement, entry *audit.Entry) (*Paiement, error)

	// Ecoles lists active tenants for the monthly reset.
	Ecoles(ctx context.Context) ([]Ecole, error)

	// ResetStatutMensuel sets every student's flag to non_a_jour in batches
	// of at most batchSize writes. Returns rows touched. Idempotent.
	ResetStatutMensuel(ctx context.Context, ecoleID string, batchSize int) (int, error)

	// StatsMensuel aggregates the school's obligations and student count
	// for the month.
	StatsMensuel(ctx context.Context, ecoleID, mois string) (*Stats, error)

	audit.Store
}
