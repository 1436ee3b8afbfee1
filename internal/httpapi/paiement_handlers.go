package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"scolara.org/internal/ledger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the tag-based checks and rewrites the first failure
// into a client-facing message.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s failed validation on %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return err
}

type createPaiementRequest struct {
	EleveID      string `json:"eleveId" validate:"required,max=64"`
	Mois         string `json:"mois" validate:"required"`
	MontantTotal int64  `json:"montantTotal" validate:"min=0"`
	MontantPaye  int64  `json:"montantPaye" validate:"min=0"`
	DatePaiement string `json:"datePaiement" validate:"required"`
	EcoleID      string `json:"ecoleId,omitempty" validate:"max=64"`
}

type versementRequest struct {
	Montant      int64  `json:"montant" validate:"required"`
	Methode      string `json:"methode" validate:"required"`
	DatePaiement string `json:"datePaiement" validate:"required"`
	EcoleID      string `json:"ecoleId,omitempty" validate:"max=64"`
}

func (a *API) handlePaiementsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPaiement(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handlePaiementResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/paiements/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/versements") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/versements"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "paiement not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.ajouterVersement(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPaiement(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createPaiement(w http.ResponseWriter, r *http.Request) {
	var req createPaiementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateStruct(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.ledger.CreatePaiement(r.Context(), ledger.CreatePaiementInput{
		EleveID:      strings.TrimSpace(req.EleveID),
		Mois:         strings.TrimSpace(req.Mois),
		MontantTotal: req.MontantTotal,
		MontantPaye:  req.MontantPaye,
		DatePaiement: strings.TrimSpace(req.DatePaiement),
		EcoleID:      strings.TrimSpace(req.EcoleID),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/paiements/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) ajouterVersement(w http.ResponseWriter, r *http.Request, paiementID string) {
	var req versementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateStruct(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.ledger.AjouterVersement(r.Context(), ledger.AjouterVersementInput{
		PaiementID:   paiementID,
		Montant:      req.Montant,
		Methode:      ledger.Methode(strings.TrimSpace(req.Methode)),
		DatePaiement: strings.TrimSpace(req.DatePaiement),
		EcoleID:      strings.TrimSpace(req.EcoleID),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getPaiement(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.ledger.GetPaiement(r.Context(), id, strings.TrimSpace(r.URL.Query().Get("ecoleId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	st, err := a.ledger.StatsMensuel(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("mois")),
		strings.TrimSpace(r.URL.Query().Get("ecoleId")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
