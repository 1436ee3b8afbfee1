package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"scolara.org/internal/apperr"
	"scolara.org/internal/audit"
	"scolara.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. A single
// mutex around every mutation gives the same atomicity the SQL store gets
// from its transactions. Used by tests and local runs without a database.
type InMemory struct {
	mu        sync.RWMutex
	ecoles    map[string]*Ecole
	eleves    map[string]*Eleve
	paiements map[string]*Paiement
	byMois    map[string]string // eleveID+"|"+mois -> paiement id
	audits    []audit.Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		ecoles:    make(map[string]*Ecole),
		eleves:    make(map[string]*Eleve),
		paiements: make(map[string]*Paiement),
		byMois:    make(map[string]string),
	}
}

// PutEcole inserts or replaces a tenant.
func (s *InMemory) PutEcole(e *Ecole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.ecoles[cp.ID] = &cp
}

// PutEleve inserts or replaces a student.
func (s *InMemory) PutEleve(e *Eleve) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.StatutPaiementMensuel == "" {
		cp.StatutPaiementMensuel = FlagNonAJour
	}
	s.eleves[cp.ID] = &cp
}

// AuditEntries returns a snapshot of appended entries, oldest first.
func (s *InMemory) AuditEntries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *InMemory) FindEleve(ctx context.Context, ecoleID, eleveID string) (*Eleve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.eleves[eleveID]
	if !ok || e.EcoleID != ecoleID {
		return nil, apperr.New(apperr.NotFound, "eleve not found")
	}
	cp := *e
	return &cp, nil
}

func (s *InMemory) FindPaiement(ctx context.Context, ecoleID, paiementID string) (*Paiement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paiements[paiementID]
	if !ok || p.EcoleID != ecoleID {
		return nil, apperr.New(apperr.NotFound, "paiement not found")
	}
	return copyPaiement(p), nil
}

func (s *InMemory) HasPaiement(ctx context.Context, eleveID, mois string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byMois[eleveID+"|"+mois]
	return ok, nil
}

func (s *InMemory) CountPaiements(ctx context.Context, ecoleID, mois string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.paiements {
		if p.EcoleID == ecoleID && p.Mois == mois {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) InsertPaiement(ctx context.Context, p *Paiement, flag FlagPaiement, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.EleveID + "|" + p.Mois
	if _, ok := s.byMois[key]; ok {
		return apperr.New(apperr.AlreadyExists, "paiement already exists for this month")
	}
	eleve, ok := s.eleves[p.EleveID]
	if !ok || eleve.EcoleID != p.EcoleID {
		return apperr.New(apperr.NotFound, "eleve not found")
	}

	cp := copyPaiement(p)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.paiements[cp.ID] = cp
	s.byMois[key] = cp.ID

	eleve.StatutPaiementMensuel = flag
	if flag == FlagAJour {
		eleve.DernierMoisPaye = p.Mois
	}

	s.appendAuditLocked(entry)
	return nil
}

func (s *InMemory) ApplyVersement(ctx context.Context, ecoleID, paiementID string, v *Versement, entry *audit.Entry) (*Paiement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paiements[paiementID]
	if !ok || p.EcoleID != ecoleID {
		return nil, apperr.New(apperr.NotFound, "paiement not found")
	}

	restant := p.MontantTotal - p.MontantPaye
	if v.Montant > restant {
		return nil, apperr.Newf(apperr.InvalidArgument,
			"montant exceeds remaining balance: %d remaining", restant)
	}

	cp := *v
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	p.Versements = append(p.Versements, cp)
	p.MontantPaye += v.Montant
	p.MontantRestant = p.MontantTotal - p.MontantPaye
	p.Statut = DeriveStatut(p.MontantTotal, p.MontantPaye)
	p.DatePaiement = v.DateVersement

	if p.MontantRestant <= 0 {
		if eleve, ok := s.eleves[p.EleveID]; ok && !s.hasOtherUnpaidLocked(p.EleveID, p.ID) {
			eleve.Banni = false
			eleve.MotifBannissement = ""
			eleve.StatutPaiementMensuel = FlagAJour
			eleve.DernierMoisPaye = p.Mois
		}
	}

	s.appendAuditLocked(entry)
	return copyPaiement(p), nil
}

func (s *InMemory) Ecoles(ctx context.Context) ([]Ecole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ecole, 0, len(s.ecoles))
	for _, e := range s.ecoles {
		if !e.Actif {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ResetStatutMensuel(ctx context.Context, ecoleID string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = MaxBatchSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.eleves {
		if e.EcoleID != ecoleID {
			continue
		}
		e.StatutPaiementMensuel = FlagNonAJour
		n++
	}
	return n, nil
}

func (s *InMemory) StatsMensuel(ctx context.Context, ecoleID, mois string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Mois: mois}
	for _, e := range s.eleves {
		if e.EcoleID == ecoleID && e.Statut == EleveStatutActif {
			st.TotalEleves++
		}
	}
	for _, p := range s.paiements {
		if p.EcoleID != ecoleID || p.Mois != mois {
			continue
		}
		st.TotalPaye += p.MontantPaye
		st.TotalAttendu += p.MontantTotal
		if p.Statut == StatutPaye {
			st.ElevesAJour++
		}
	}
	st.ElevesNonAJour = st.TotalEleves - st.ElevesAJour
	if st.ElevesNonAJour < 0 {
		st.ElevesNonAJour = 0
	}
	st.TauxCouverture = CoverageRate(st.TotalPaye, st.TotalAttendu)
	return st, nil
}

func (s *InMemory) Append(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

func (s *InMemory) hasOtherUnpaidLocked(eleveID, excludeID string) bool {
	for _, p := range s.paiements {
		if p.EleveID == eleveID && p.ID != excludeID && p.Statut != StatutPaye {
			return true
		}
	}
	return false
}

func (s *InMemory) appendAuditLocked(entry *audit.Entry) {
	if entry == nil {
		return
	}
	cp := *entry
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = time.Now().UTC()
	}
	s.audits = append(s.audits, cp)
}

func copyPaiement(p *Paiement) *Paiement {
	cp := *p
	cp.Versements = make([]Versement, len(p.Versements))
	copy(cp.Versements, p.Versements)
	return &cp
}
