package api

import (
	"net/http"
	"time"

	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/pkg/core"
	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status string `json:"status"`
	Flags  int    `json:"flags"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Flags: s.svc.Index().Len()})
}

func (s *Server) place(w http.ResponseWriter, r *http.Request) {
	var body PlaceBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.svc.Place(r.Context(), territory.PlaceRequest{
		OwnerID: playerFrom(r.Context()),
		Lat:     *body.Lat,
		Lon:     *body.Lon,
		Level:   body.Level,
		Color:   body.Color,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f.Snapshot())
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Upgrade(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

func (s *Server) attack(w http.ResponseWriter, r *http.Request) {
	var body AttackBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Attack(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()), body.Damage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Capture(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type collectResponse struct {
	Amount float64 `json:"amount"`
}

func (s *Server) collect(w http.ResponseWriter, r *http.Request) {
	amount, err := s.svc.Collect(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectResponse{Amount: amount})
}

type repairResponse struct {
	Flag core.Snapshot `json:"flag"`
	Cost float64       `json:"cost"`
}

func (s *Server) repair(w http.ResponseWriter, r *http.Request) {
	f, cost, err := s.svc.Repair(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repairResponse{Flag: f.Snapshot(), Cost: cost})
}

func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Abandon(r.Context(), chi.URLParam(r, "id"), playerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

func (s *Server) getFlag(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Flag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

func (s *Server) outline(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Outline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type ledgerEntry struct {
	ID      string          `json:"id"`
	Type    core.LedgerType `json:"type"`
	Amount  float64         `json:"amount"`
	Factor  float64         `json:"factor,omitempty"`
	ActorID string          `json:"actorId,omitempty"`
	At      time.Time       `json:"at"`
	Details map[string]any  `json:"details,omitempty"`
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Flag(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.svc.Ledger(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ledgerEntry, len(entries))
	for i, e := range entries {
		out[i] = ledgerEntry{
			ID:      e.ID,
			Type:    e.Type,
			Amount:  e.Amount,
			Factor:  e.Factor,
			ActorID: e.ActorID,
			At:      e.At,
			Details: e.Details,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type reconcileResponse struct {
	territory.Reconciliation
	Consistent bool `json:"consistent"`
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Reconciliation: rec, Consistent: rec.Consistent()})
}

func (s *Server) nearby(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hits, err := s.svc.Nearby(lat, lon, radius)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

type claimResponse struct {
	Neutral bool                 `json:"neutral"`
	Claim   *territory.ClaimView `json:"claim,omitempty"`
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, ok, err := s.svc.Claim(lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, claimResponse{Neutral: true})
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Claim: &c})
}

func (s *Server) groups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Groups(chi.URLParam(r, "id")))
}

func (s *Server) canMove(w http.ResponseWriter, r *http.Request) {
	var body MoveCheckBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.CanMove(r.Header.Get(PlayerHeader), body.Current.position(), body.Target.position())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	var body PositionBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.Move(r.Context(), playerFrom(r.Context()), body.position())
	if err != nil {
		if core.KindOf(err) == core.KindOutsideTerritory {
			writeJSON(w, StatusFor(err), d)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) drainEvents(w http.ResponseWriter, _ *http.Request) {
	events := []core.Event{}
	if s.outbox != nil {
		events = append(events, s.outbox.Drain()...)
	}
	writeJSON(w, http.StatusOK, events)
}
