package referrald

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"refchain/core/state"
	"refchain/crypto"
	"refchain/native/referral"
	"refchain/native/referral/payout"
)

type identityRequest struct {
	Identity string `json:"identity"`
}

type decayRequest struct {
	Kind      string `json:"kind"`
	Factor    string `json:"factor"`
	MinReward string `json:"minReward"`
}

type shareRequest struct {
	Bps uint32 `json:"bps"`
}

type presetRequest struct {
	Name string `json:"name"`
}

type authorityRequest struct {
	Next string `json:"next"`
}

type fundRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// adminFor resolves the authenticated caller into an admin capability. It
// writes the error response itself and returns nil on failure.
func (s *Server) adminFor(w http.ResponseWriter, r *http.Request) *referral.Admin {
	caller, ok := adminCaller(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller", Code: "unauthenticated"})
		return nil
	}
	admin, err := s.registry.Admin(caller)
	if err != nil {
		s.writeError(w, r, err)
		return nil
	}
	return admin
}

func (s *Server) audited(r *http.Request, admin *referral.Admin, action string, args ...any) {
	attrs := append([]any{"route", routeName(r), "caller", admin.Caller().Hex(), "action", action}, args...)
	s.logger.Info("admin action", attrs...)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.changeAuthorization(w, r, true)
}

func (s *Server) handleUnauthorize(w http.ResponseWriter, r *http.Request) {
	s.changeAuthorization(w, r, false)
}

func (s *Server) changeAuthorization(w http.ResponseWriter, r *http.Request, member bool) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	set, err := referral.ParseAuthSet(chi.URLParam(r, "set"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	raw := chi.URLParam(r, "identity")
	if member {
		var req identityRequest
		if !decodeBody(w, r, &req) {
			return
		}
		raw = req.Identity
	}
	id, err := crypto.ParseIdentity(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if member {
		err = admin.Authorize(set, id)
	} else {
		err = admin.Unauthorize(set, id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audited(r, admin, "authorization", "set", set.String(), "identity", id.Hex(), "authorized", member)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetDecay takes factor and minReward in base units: basis points for
// the linear and exponential kinds, the smallest token unit for fixed.
func (s *Server) handleSetDecay(w http.ResponseWriter, r *http.Request) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	var req decayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := payout.ParseDecayKind(req.Kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	factor, err := parseAmount(req.Factor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minReward, err := parseAmount(req.MinReward)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := admin.SetDecayConfig(kind, factor, minReward); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audited(r, admin, "decay", "kind", kind.String(), "factor", factor.Dec(), "min_reward", minReward.Dec())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetShare(w http.ResponseWriter, r *http.Request) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	var req shareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := admin.SetOriginalShare(req.Bps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audited(r, admin, "share", "bps", req.Bps)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	var req presetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	preset, ok := payout.LookupPreset(req.Name)
	if !ok {
		badRequest(w, "unknown preset "+strings.TrimSpace(req.Name))
		return
	}
	if err := admin.ApplyConfig(preset.Config); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audited(r, admin, "preset", "name", preset.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := s.adminFor(w, r)
		if admin == nil {
			return
		}
		if err := admin.SetPaused(paused); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.audited(r, admin, "pause", "paused", paused)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTransferAuthority(w http.ResponseWriter, r *http.Request) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	var req authorityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := crypto.ParseIdentity(req.Next)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := admin.TransferAuthority(next); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audited(r, admin, "authority", "next", next.Hex())
	w.WriteHeader(http.StatusNoContent)
}

// handleFund credits the treasury. The amount is in the smallest unit.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	admin := s.adminFor(w, r)
	if admin == nil {
		return
	}
	var req fundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var balance *big.Int
	err = admin.Exec(func(m *state.Manager) error {
		var err error
		balance, err = s.ledger.Fund(m, amount, req.Asset)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	s.audited(r, admin, "fund", "asset", asset, "amount", amount.Dec())
	writeJSON(w, http.StatusOK, map[string]string{
		"treasury": hexAddr(s.ledger.Treasury()),
		"asset":    asset,
		"balance":  balance.String(),
	})
}
