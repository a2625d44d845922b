package referrald

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"refchain/core/state"
	"refchain/crypto"
	"refchain/native/bank"
	"refchain/native/referral"
	"refchain/native/referral/payout"
	"refchain/observability/logging"
	"refchain/services/referrald/audit"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	Registration referral.Registration `json:"registration"`
	Signature    string                `json:"signature"`
}

type registerResponse struct {
	Registrar string `json:"registrar"`
	Edges     int    `json:"edges"`
}

type distributeRequest struct {
	Request   referral.RewardRequest `json:"request"`
	Signature string                 `json:"signature"`
}

type slotJSON struct {
	Participant string `json:"participant,omitempty"`
	Sentinel    bool   `json:"sentinel,omitempty"`
}

type transferJSON struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type receiptJSON struct {
	RequestHash   string         `json:"requestHash"`
	Signer        string         `json:"signer"`
	Chain         []slotJSON     `json:"chain"`
	Transfers     []transferJSON `json:"transfers"`
	Dust          string         `json:"dust"`
	Redistributed string         `json:"redistributed"`
}

type statsJSON struct {
	Registered      bool   `json:"registered"`
	Referrer        string `json:"referrer,omitempty"`
	Level           int    `json:"level"`
	LevelTruncated  bool   `json:"levelTruncated,omitempty"`
	DirectReferrals int    `json:"directReferrals"`
}

type ancestorJSON struct {
	Address  string `json:"address,omitempty"`
	Level    int    `json:"level"`
	Sentinel bool   `json:"sentinel,omitempty"`
}

type decayJSON struct {
	Kind      string `json:"kind"`
	Factor    string `json:"factor"`
	MinReward string `json:"minReward"`
}

type configJSON struct {
	Authority        string    `json:"authority,omitempty"`
	Paused           bool      `json:"paused"`
	Decay            decayJSON `json:"decay"`
	OriginalShareBps uint32    `json:"originalShareBps"`
	Treasury         string    `json:"treasury"`
	Presets          []string  `json:"presets"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	edges := len(req.Registration.Users)
	registrar, err := s.registry.RegisterSigned(req.Registration, sig)
	_, outcome := classify(err)
	s.metrics.RecordRegistration(outcome, edges)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("edges registered",
		"group", req.Registration.Group.Hex(),
		"registrar", registrar.Hex(),
		"edges", edges)
	writeJSON(w, http.StatusCreated, registerResponse{Registrar: hexAddr(registrar), Edges: edges})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	receipt, err := s.distributor.Distribute(r.Context(), req.Request, sig)
	if err != nil {
		_, outcome := classify(err)
		s.metrics.RecordDistribution(outcome, req.Request.ValueType, 0, 0)
		s.logger.Warn("distribution rejected",
			"user", req.Request.User.Hex(),
			"event_id", req.Request.EventID,
			logging.MaskField("signature", req.Signature),
			"error", err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordDistribution("success", req.Request.ValueType, len(receipt.Chain), len(receipt.Transfers))
	s.logger.Info("reward distributed",
		"request_hash", common.Hash(receipt.RequestHash).Hex(),
		"user", req.Request.User.Hex(),
		"signer", receipt.Signer.Hex(),
		"value_type", req.Request.ValueType,
		"transfers", len(receipt.Transfers))
	writeJSON(w, http.StatusOK, encodeReceipt(receipt))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	group, user, ok := groupAndParticipant(w, r)
	if !ok {
		return
	}
	stats, err := s.registry.Stats(user, group)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := statsJSON{
		Registered:      stats.Registered,
		Level:           stats.Level,
		LevelTruncated:  stats.LevelTruncated,
		DirectReferrals: stats.DirectReferrals,
	}
	if stats.Registered {
		out.Referrer = stats.Referrer.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReferrer(w http.ResponseWriter, r *http.Request) {
	group, user, ok := groupAndParticipant(w, r)
	if !ok {
		return
	}
	ref, found, err := s.registry.Referrer(user, group)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "participant not registered", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"referrer": ref.String()})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	group, err := referral.ResolveGroup(chi.URLParam(r, "group"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	of, err := referral.ParseReferrer(chi.URLParam(r, "participant"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	children, err := s.registry.Children(of, group)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"children": hexAddrs(children)})
}

func (s *Server) handleAncestors(w http.ResponseWriter, r *http.Request) {
	group, user, ok := groupAndParticipant(w, r)
	if !ok {
		return
	}
	maxLevels := referral.MaxTraversalHops
	if raw := strings.TrimSpace(r.URL.Query().Get("max")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "max must be a non-negative integer")
			return
		}
		maxLevels = n
	}
	ancestors, err := s.registry.Ancestors(user, group, maxLevels).Collect()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ancestorJSON, len(ancestors))
	for i, a := range ancestors {
		out[i] = ancestorJSON{Level: a.Level, Sentinel: a.Sentinel}
		if !a.Sentinel {
			out[i].Address = hexAddr(a.Address)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]ancestorJSON{"ancestors": out})
}

func (s *Server) handleEarned(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseIdentity(chi.URLParam(r, "participant"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	valueType := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "valueType")))
	total, err := s.registry.RewardsEarned(addr, valueType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"valueType": valueType, "earned": total.Dec()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseIdentity(chi.URLParam(r, "participant"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
	var balance *big.Int
	err = s.store.View(func(m *state.Manager) error {
		var err error
		balance, err = bank.Balance(m, addr, asset)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "balance": balance.String()})
}

func (s *Server) handleListAuthorized(w http.ResponseWriter, r *http.Request) {
	set, err := referral.ParseAuthSet(chi.URLParam(r, "set"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.registry.ListAuthorized(set)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"set": set.String(), "members": hexAddrs(members)})
}

func (s *Server) handleIsAuthorized(w http.ResponseWriter, r *http.Request) {
	set, err := referral.ParseAuthSet(chi.URLParam(r, "set"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := crypto.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ok, err := s.registry.IsAuthorized(set, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": ok})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.registry.DecayConfig()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	paused, err := s.registry.IsPaused()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := configJSON{
		Paused:           paused,
		Decay:            encodeDecay(cfg),
		OriginalShareBps: cfg.OriginalShareBps,
		Treasury:         hexAddr(s.ledger.Treasury()),
		Presets:          payout.PresetNames(),
	}
	if authority, ok, err := s.registry.Authority(); err != nil {
		s.writeError(w, r, err)
		return
	} else if ok {
		out.Authority = hexAddr(authority)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	distributed, err := s.distributor.IsDistributed(hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]interface{}{"distributed": distributed}
	if s.audit != nil && distributed {
		rec, found, err := s.audit.Distribution(r.Context(), common.Hash(hash).Hex())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if found {
			resp["record"] = rec
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, errNoAuditStore)
		return
	}
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	records, err := s.audit.Distributions(r.Context(), audit.Filter{
		User:      q.Get("user"),
		Signer:    q.Get("signer"),
		ValueType: q.Get("valueType"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"distributions": records})
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, errNoAuditStore)
		return
	}
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	entries, err := s.audit.Entries(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func encodeReceipt(receipt *referral.Receipt) receiptJSON {
	out := receiptJSON{
		RequestHash:   common.Hash(receipt.RequestHash).Hex(),
		Signer:        hexAddr(receipt.Signer),
		Chain:         make([]slotJSON, len(receipt.Chain)),
		Transfers:     make([]transferJSON, len(receipt.Transfers)),
		Dust:          receipt.Dust.Dec(),
		Redistributed: receipt.Redistributed.Dec(),
	}
	for i, slot := range receipt.Chain {
		if slot.Sentinel {
			out.Chain[i] = slotJSON{Sentinel: true}
			continue
		}
		out.Chain[i] = slotJSON{Participant: hexAddr(slot.Participant)}
	}
	for i, t := range receipt.Transfers {
		out.Transfers[i] = transferJSON{Recipient: hexAddr(t.Recipient), Amount: t.Amount.Dec()}
	}
	return out
}

func encodeDecay(cfg payout.Config) decayJSON {
	return decayJSON{
		Kind:      cfg.Kind.String(),
		Factor:    decOrZero(cfg.Factor),
		MinReward: decOrZero(cfg.MinReward),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		badRequest(w, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}

func decodeSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	sig, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return sig, nil
}

func groupAndParticipant(w http.ResponseWriter, r *http.Request) (referral.GroupID, common.Address, bool) {
	group, err := referral.ResolveGroup(chi.URLParam(r, "group"))
	if err != nil {
		badRequest(w, err.Error())
		return referral.GroupID{}, common.Address{}, false
	}
	user, err := crypto.ParseIdentity(chi.URLParam(r, "participant"))
	if err != nil {
		badRequest(w, err.Error())
		return referral.GroupID{}, common.Address{}, false
	}
	return group, user, true
}

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("request hash: %w", err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("request hash must be 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func parseAmount(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", referral.ErrInvalidRequest, raw)
	}
	return v, nil
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func hexAddrs(in []common.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = hexAddr(a)
	}
	return out
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
