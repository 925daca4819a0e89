package staking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/asset"
	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/model"
	"github.com/atmx/staking-ledger/internal/units"
)

// defaultEventLimit caps GET /events without ?limit=.
const defaultEventLimit = 100

// --- Request/Response types ---

// InitializeRequest is the JSON body for POST /initialize.
type InitializeRequest struct {
	StakingAsset string `json:"staking_asset"`
	RewardAsset  string `json:"reward_asset"`
	RewardRate   string `json:"reward_rate"` // per mille, 1..1000
}

// StakeRequest is the JSON body for POST /stake.
type StakeRequest struct {
	Staker string `json:"staker"`
	Amount string `json:"amount"` // base units, decimal
}

// UnstakeRequest is the JSON body for POST /unstake.
type UnstakeRequest struct {
	Staker string `json:"staker"`
}

// ApproveRequest is the JSON body for POST /assets/{asset}/approve.
type ApproveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// TransferRequest is the JSON body for POST /assets/{asset}/transfer.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// MintRequest is the JSON body for POST /assets/{asset}/mint.
type MintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ConfigurationResponse is getConfiguration plus display fields.
type ConfigurationResponse struct {
	*model.Configuration
	RewardRatePercent    string `json:"reward_rate_percent"`
	TotalReservedDisplay string `json:"total_reserved_display,omitempty"`
	LedgerAddress        string `json:"ledger_address"`
}

// UserInfoResponse is queryUserInfo plus display fields.
type UserInfoResponse struct {
	model.UserInfo
	StakedDisplay string `json:"staked_display,omitempty"`
	RewardDisplay string `json:"reward_display,omitempty"`
}

// BalanceResponse is returned from GET /assets/{asset}/balances/{holder}.
type BalanceResponse struct {
	Asset   common.Address `json:"asset"`
	Holder  common.Address `json:"holder"`
	Balance *uint256.Int   `json:"balance"`
	Display string         `json:"display"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code,omitempty"`
	Deficit *uint256.Int `json:"deficit,omitempty"`
}

// Routes registers the ledger and asset endpoints on r.
func (s *Service) Routes(r chi.Router) {
	// Ledger.
	r.Post("/initialize", s.HandleInitialize)
	r.Get("/configuration", s.HandleConfiguration)
	r.Post("/stake", s.HandleStake)
	r.Get("/stake/preview", s.HandlePreviewStake)
	r.Post("/unstake", s.HandleUnstake)
	r.Get("/users/{address}", s.HandleUserInfo)
	r.Get("/events", s.HandleEvents)
	r.Get("/audit", s.HandleAudit)

	// Asset bank.
	r.Get("/assets", s.HandleAssets)
	r.Get("/assets/{asset}/balances/{holder}", s.HandleBalance)
	r.Post("/assets/{asset}/approve", s.HandleApprove)
	r.Post("/assets/{asset}/transfer", s.HandleTransfer)
	if s.faucet {
		r.Post("/assets/{asset}/mint", s.HandleMint)
	}
}

// --- Ledger handlers ---

// HandleInitialize handles POST /api/v1/initialize
func (s *Service) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Zero addresses are passed through so the ledger reports which asset
	// is invalid.
	stakingAsset, err := parseOptionalAddress("staking_asset", req.StakingAsset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rewardAsset, err := parseOptionalAddress("reward_asset", req.RewardAsset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// An unparseable rate is reported by the ledger as InvalidRewardRate,
	// after the asset checks.
	rate, err := units.ParseBaseUnits(req.RewardRate)
	if err != nil {
		rate = nil
	}

	cfg, err := s.Initialize(r.Context(), stakingAsset, rewardAsset, rate)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.configurationResponse(cfg))
}

// HandleConfiguration handles GET /api/v1/configuration
func (s *Service) HandleConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Configuration(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.configurationResponse(cfg))
}

// HandleStake handles POST /api/v1/stake
// Returns the Staked event.
func (s *Service) HandleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	staker, err := parseAddress("staker", req.Staker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := units.ParseBaseUnits(req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}

	ev, err := s.Stake(r.Context(), staker, amount)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// HandlePreviewStake handles GET /api/v1/stake/preview?amount=
func (s *Service) HandlePreviewStake(w http.ResponseWriter, r *http.Request) {
	amount, err := units.ParseBaseUnits(r.URL.Query().Get("amount"))
	if err != nil {
		respondError(w, err)
		return
	}
	p, err := s.PreviewStake(r.Context(), amount)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUnstake handles POST /api/v1/unstake
// Returns the Unstaked event.
func (s *Service) HandleUnstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	staker, err := parseAddress("staker", req.Staker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev, err := s.Unstake(r.Context(), staker)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// HandleUserInfo handles GET /api/v1/users/{address}
func (s *Service) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	user, err := parseOptionalAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	info, err := s.QueryUserInfo(ctx, user)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := UserInfoResponse{UserInfo: info}
	if cfg, err := s.Configuration(ctx); err == nil {
		resp.StakedDisplay = s.display(cfg.StakingAsset, info.StakedAmount)
		resp.RewardDisplay = s.display(cfg.RewardAsset, info.RewardOwed)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEvents handles GET /api/v1/events
// Optional ?user=<address> filters to one staker; ?limit= caps the tail.
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var user *common.Address
	if v := q.Get("user"); v != "" {
		addr, err := parseAddress("user", v)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		user = &addr
	}
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.Events(r.Context(), user, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleAudit handles GET /api/v1/audit
func (s *Service) HandleAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Audit(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Asset handlers ---

// HandleAssets handles GET /api/v1/assets
func (s *Service) HandleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Assets())
}

// HandleBalance handles GET /api/v1/assets/{asset}/balances/{holder}
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	a, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	holder, err := parseOptionalAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	bal, err := s.Balance(r.Context(), a, holder)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Asset:   a,
		Holder:  holder,
		Balance: bal,
		Display: s.display(a, bal),
	})
}

// HandleApprove handles POST /api/v1/assets/{asset}/approve
func (s *Service) HandleApprove(w http.ResponseWriter, r *http.Request) {
	a, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := units.ParseBaseUnits(req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.Approve(r.Context(), a, owner, spender, amount); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset": a.Hex(), "owner": owner.Hex(), "spender": spender.Hex(), "allowance": amount.Dec(),
	})
}

// HandleTransfer handles POST /api/v1/assets/{asset}/transfer
func (s *Service) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	a, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseOptionalAddress("to", req.To)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := units.ParseBaseUnits(req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.Transfer(r.Context(), a, from, to, amount); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset": a.Hex(), "from": from.Hex(), "to": to.Hex(), "amount": amount.Dec(),
	})
}

// HandleMint handles POST /api/v1/assets/{asset}/mint (faucet only).
func (s *Service) HandleMint(w http.ResponseWriter, r *http.Request) {
	a, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := units.ParseBaseUnits(req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.Mint(r.Context(), a, to, amount); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset": a.Hex(), "to": to.Hex(), "amount": amount.Dec(),
	})
}

// --- Helpers ---

func (s *Service) configurationResponse(cfg *model.Configuration) ConfigurationResponse {
	return ConfigurationResponse{
		Configuration:        cfg,
		RewardRatePercent:    units.RatePercent(cfg.RewardRate, cfg.RewardDivisor),
		TotalReservedDisplay: s.display(cfg.RewardAsset, cfg.TotalReservedRewards),
		LedgerAddress:        s.self.Hex(),
	}
}

// display formats amount in the asset's units; "" for unknown assets.
func (s *Service) display(a common.Address, amount *uint256.Int) string {
	info, err := s.registry.Lookup(a)
	if err != nil {
		return ""
	}
	return units.Format(amount, info.Decimals, info.Symbol)
}

// parseAddress parses a non-zero hex address.
func parseAddress(field, v string) (common.Address, error) {
	addr, err := parseOptionalAddress(field, v)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", field)
	}
	return addr, nil
}

// parseOptionalAddress parses a hex address; the zero address is allowed.
func parseOptionalAddress(field, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s must be a hex address, got %q", field, v)
	}
	return common.HexToAddress(v), nil
}

var assetCodes = []struct {
	err  error
	code string
}{
	{asset.ErrUnknownAsset, "UnknownAsset"},
	{asset.ErrZeroAddress, "ZeroAddress"},
	{asset.ErrInsufficientBalance, "InsufficientBalance"},
	{asset.ErrInsufficientAllowance, "InsufficientAllowance"},
	{asset.ErrBalanceOverflow, "BalanceOverflow"},
	{units.ErrInvalidAmount, "InvalidAmount"},
	{units.ErrTooPrecise, "InvalidAmount"},
	{units.ErrOutOfRange, "InvalidAmount"},
	{ErrFaucetDisabled, "FaucetDisabled"},
	{ErrLedgerAccount, "LedgerAccount"},
}

// errorCode returns the wire code of err. Ledger codes take precedence so a
// wrapped transfer failure reports TransferFailed.
func errorCode(err error) string {
	if code := ledger.Code(err); code != "" {
		return code
	}
	for _, c := range assetCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

func statusFor(code string) int {
	switch code {
	case "InvalidStakingAsset", "InvalidRewardAsset", "InvalidRewardRate",
		"InvalidStakeAmount", "ZeroRewardGenerated", "AmountOverflow",
		"UnknownAsset", "ZeroAddress", "InvalidAmount":
		return http.StatusBadRequest
	case "NoActiveStake", "NoOwedReward", "InsufficientRewardTokens",
		"AlreadyInitialized", "InsufficientBalance", "InsufficientAllowance",
		"BalanceOverflow":
		return http.StatusConflict
	case "NotInitialized":
		return http.StatusPreconditionFailed
	case "TransferFailed":
		return http.StatusUnprocessableEntity
	case "FaucetDisabled", "LedgerAccount":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError maps a domain error to its status, code and deficit.
func respondError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var insufficient *ledger.InsufficientRewardTokensError
	if errors.As(err, &insufficient) {
		resp.Deficit = insufficient.Deficit
	}
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: "BadRequest"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
