// Package pg implements the storage interfaces over PostgreSQL via the pgx
// stdlib driver. Multi-row mutations run in serializable transactions; the
// installment path re-reads the obligation under a row lock before writing.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"scolara.org/internal/apperr"
	"scolara.org/internal/audit"
	"scolara.org/internal/auth"
	"scolara.org/internal/ids"
	"scolara.org/internal/ledger"
)

const (
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrSerializationFailure = "40001"

	maxTxRetries = 3
)

type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Test use.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) FindEleve(ctx context.Context, ecoleID, eleveID string) (*ledger.Eleve, error) {
	var e ledger.Eleve
	err := s.db.QueryRowContext(ctx, `
		select id, ecole_id, nom, prenom, coalesce(classe,''), statut, coalesce(email,''),
		       statut_paiement_mensuel, coalesce(dernier_mois_paye,''),
		       banni, coalesce(motif_bannissement,'')
		from eleves
		where id = $1 and ecole_id = $2
	`, eleveID, ecoleID).Scan(
		&e.ID, &e.EcoleID, &e.Nom, &e.Prenom, &e.Classe, &e.Statut, &e.Email,
		&e.StatutPaiementMensuel, &e.DernierMoisPaye,
		&e.Banni, &e.MotifBannissement,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "eleve not found")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) FindPaiement(ctx context.Context, ecoleID, paiementID string) (*ledger.Paiement, error) {
	p, err := scanPaiement(s.db.QueryRowContext(ctx, `
		select id, ecole_id, eleve_id, mois, montant_total, montant_paye, montant_restant,
		       statut, reference, date_paiement, cree_par, created_at
		from paiements
		where id = $1 and ecole_id = $2
	`, paiementID, ecoleID))
	if err != nil {
		return nil, err
	}
	if err := s.loadVersements(ctx, s.db, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) HasPaiement(ctx context.Context, eleveID, mois string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from paiements where eleve_id = $1 and mois = $2)
	`, eleveID, mois).Scan(&exists)
	return exists, err
}

func (s *Store) CountPaiements(ctx context.Context, ecoleID, mois string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from paiements where ecole_id = $1 and mois = $2
	`, ecoleID, mois).Scan(&n)
	return n, err
}

func (s *Store) InsertPaiement(ctx context.Context, p *ledger.Paiement, flag ledger.FlagPaiement, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into paiements (id, ecole_id, eleve_id, mois, montant_total, montant_paye,
		                       montant_restant, statut, reference, date_paiement, cree_par, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.EcoleID, p.EleveID, p.Mois, p.MontantTotal, p.MontantPaye,
		p.MontantRestant, string(p.Statut), p.Reference, p.DatePaiement, p.CreePar, p.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return apperr.New(apperr.AlreadyExists, "paiement already exists for this month")
			case pgErrForeignKeyViolation:
				return apperr.New(apperr.NotFound, "eleve not found")
			}
		}
		return err
	}
	for i := range p.Versements {
		if err := insertVersement(ctx, tx, p.ID, &p.Versements[i]); err != nil {
			return err
		}
	}

	if flag == ledger.FlagAJour {
		_, err = tx.ExecContext(ctx, `
			update eleves set statut_paiement_mensuel = $2, dernier_mois_paye = $3
			where id = $1
		`, p.EleveID, string(flag), p.Mois)
	} else {
		_, err = tx.ExecContext(ctx, `
			update eleves set statut_paiement_mensuel = $2 where id = $1
		`, p.EleveID, string(flag))
	}
	if err != nil {
		return err
	}

	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyVersement(ctx context.Context, ecoleID, paiementID string, v *ledger.Versement, entry *audit.Entry) (*ledger.Paiement, error) {
	var result *ledger.Paiement
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		p, err := scanPaiement(tx.QueryRowContext(ctx, `
			select id, ecole_id, eleve_id, mois, montant_total, montant_paye, montant_restant,
			       statut, reference, date_paiement, cree_par, created_at
			from paiements
			where id = $1 and ecole_id = $2
			for update
		`, paiementID, ecoleID))
		if err != nil {
			return err
		}

		restant := p.MontantTotal - p.MontantPaye
		if v.Montant > restant {
			return apperr.Newf(apperr.InvalidArgument,
				"montant exceeds remaining balance: %d remaining", restant)
		}

		if err := insertVersement(ctx, tx, p.ID, v); err != nil {
			return err
		}

		p.MontantPaye += v.Montant
		p.MontantRestant = p.MontantTotal - p.MontantPaye
		p.Statut = ledger.DeriveStatut(p.MontantTotal, p.MontantPaye)
		p.DatePaiement = v.DateVersement
		if _, err := tx.ExecContext(ctx, `
			update paiements
			set montant_paye = $2, montant_restant = $3, statut = $4, date_paiement = $5
			where id = $1
		`, p.ID, p.MontantPaye, p.MontantRestant, string(p.Statut), p.DatePaiement); err != nil {
			return err
		}

		if p.MontantRestant <= 0 {
			var outstanding bool
			if err := tx.QueryRowContext(ctx, `
				select exists(
					select 1 from paiements
					where eleve_id = $1 and id <> $2 and statut <> 'paye'
				)
			`, p.EleveID, p.ID).Scan(&outstanding); err != nil {
				return err
			}
			if !outstanding {
				if _, err := tx.ExecContext(ctx, `
					update eleves
					set banni = false, motif_bannissement = null,
					    statut_paiement_mensuel = $2, dernier_mois_paye = $3
					where id = $1
				`, p.EleveID, string(ledger.FlagAJour), p.Mois); err != nil {
					return err
				}
			}
		}

		if err := appendAudit(ctx, tx, entry); err != nil {
			return err
		}
		if err := s.loadVersements(ctx, tx, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Ecoles(ctx context.Context) ([]ledger.Ecole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, nom, actif, coalesce(plan,''), created_at
		from ecoles
		where actif
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Ecole
	for rows.Next() {
		var e ledger.Ecole
		if err := rows.Scan(&e.ID, &e.Nom, &e.Actif, &e.Plan, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ResetStatutMensuel(ctx context.Context, ecoleID string, batchSize int) (int, error) {
	if batchSize <= 0 || batchSize > ledger.MaxBatchSize {
		batchSize = ledger.MaxBatchSize
	}
	total := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			update eleves set statut_paiement_mensuel = $1
			where id in (
				select id from eleves
				where ecole_id = $2 and statut_paiement_mensuel <> $1
				limit $3
			)
		`, string(ledger.FlagNonAJour), ecoleID, batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}

func (s *Store) StatsMensuel(ctx context.Context, ecoleID, mois string) (*ledger.Stats, error) {
	st := &ledger.Stats{Mois: mois}
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from eleves where ecole_id = $1 and statut = $2
	`, ecoleID, ledger.EleveStatutActif).Scan(&st.TotalEleves); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(montant_paye),0), coalesce(sum(montant_total),0),
		       count(*) filter (where statut = 'paye')
		from paiements
		where ecole_id = $1 and mois = $2
	`, ecoleID, mois).Scan(&st.TotalPaye, &st.TotalAttendu, &st.ElevesAJour); err != nil {
		return nil, err
	}
	st.ElevesNonAJour = st.TotalEleves - st.ElevesAJour
	if st.ElevesNonAJour < 0 {
		st.ElevesNonAJour = 0
	}
	st.TauxCouverture = ledger.CoverageRate(st.TotalPaye, st.TotalAttendu)
	return st, nil
}

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	return appendAudit(ctx, s.db, entry)
}

// withSerializableRetry runs fn in a serializable transaction, retrying on
// serialization conflicts. Domain errors abort immediately.
func (s *Store) withSerializableRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertVersement(ctx context.Context, tx execer, paiementID string, v *ledger.Versement) error {
	if v.ID == "" {
		v.ID = ids.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		insert into versements (id, paiement_id, montant, methode, date_versement, enregistre_par, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, v.ID, paiementID, v.Montant, string(v.Methode), v.DateVersement, v.EnregistrePar, v.CreatedAt)
	return err
}

func appendAudit(ctx context.Context, tx execer, entry *audit.Entry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	meta := []byte("{}")
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = raw
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor, ecole_id, action, resource_type, resource_id, metadata)
		values ($1,$2,nullif($3,''),$4,$5,$6,$7,$8)
	`, entry.ID, entry.OccurredAt, entry.Actor, entry.EcoleID, entry.Action,
		entry.ResourceType, entry.ResourceID, meta)
	return err
}

func (s *Store) loadVersements(ctx context.Context, q querier, p *ledger.Paiement) error {
	rows, err := q.QueryContext(ctx, `
		select id, montant, methode, date_versement, enregistre_par, created_at
		from versements
		where paiement_id = $1
		order by created_at, id
	`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.Versements = nil
	for rows.Next() {
		var v ledger.Versement
		if err := rows.Scan(&v.ID, &v.Montant, &v.Methode, &v.DateVersement, &v.EnregistrePar, &v.CreatedAt); err != nil {
			return err
		}
		p.Versements = append(p.Versements, v)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaiement(row rowScanner) (*ledger.Paiement, error) {
	var p ledger.Paiement
	err := row.Scan(
		&p.ID, &p.EcoleID, &p.EleveID, &p.Mois, &p.MontantTotal, &p.MontantPaye,
		&p.MontantRestant, &p.Statut, &p.Reference, &p.DatePaiement, &p.CreePar, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "paiement not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isSerializationFailure(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrSerializationFailure
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
