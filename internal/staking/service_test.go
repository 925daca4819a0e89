package staking_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/asset"
	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/model"
	"github.com/atmx/staking-ledger/internal/staking"
	"github.com/atmx/staking-ledger/internal/store"
)

var (
	self    = common.HexToAddress("0x000000000000000000000000000000005374616B")
	stAsset = common.HexToAddress("0x00000000000000000000000000000000000005a1")
	rtAsset = common.HexToAddress("0x00000000000000000000000000000000000007e1")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// wire shapes decoded with string amounts so tests compare decimal text.
type eventResp struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Staker string `json:"staker"`
	Amount string `json:"amount"`
	Reward string `json:"reward"`
}

type configResp struct {
	StakingAsset         string `json:"staking_asset"`
	RewardAsset          string `json:"reward_asset"`
	RewardRate           string `json:"reward_rate"`
	RewardDivisor        string `json:"reward_divisor"`
	TotalReservedRewards string `json:"total_reserved_rewards"`
	RewardRatePercent    string `json:"reward_rate_percent"`
	LedgerAddress        string `json:"ledger_address"`
}

type userResp struct {
	RewardOwed    string `json:"reward_owed"`
	StakedAmount  string `json:"staked_amount"`
	User          string `json:"user"`
	StakedDisplay string `json:"staked_display"`
}

type errorResp struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Deficit string `json:"deficit"`
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T, opts staking.Options) (*staking.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	reg, err := asset.NewRegistry(
		model.Asset{Address: stAsset, Symbol: "ST", Decimals: 0},
		model.Asset{Address: rtAsset, Symbol: "RT", Decimals: 0},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ms := store.NewMemoryStore()
	svc := staking.NewService(ms, reg, self, opts)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, ms, r
}

// seedLedger initializes with rate 100 and funds alice, bob and the pool.
func seedLedger(t *testing.T, svc *staking.Service, pool uint64) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Initialize(ctx, stAsset, rtAsset, uint256.NewInt(100)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, u := range []common.Address{alice, bob} {
		if err := svc.Credit(ctx, stAsset, u, uint256.NewInt(1000)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if pool > 0 {
		if err := svc.Credit(ctx, rtAsset, self, uint256.NewInt(pool)); err != nil {
			t.Fatalf("fund pool: %v", err)
		}
	}
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func approve(t *testing.T, router chi.Router, owner common.Address, amount string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/assets/"+stAsset.Hex()+"/approve", staking.ApproveRequest{
		Owner: owner.Hex(), Spender: self.Hex(), Amount: amount,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func stake(t *testing.T, router chi.Router, staker common.Address, amount string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/stake", staking.StakeRequest{Staker: staker.Hex(), Amount: amount})
}

func unstake(t *testing.T, router chi.Router, staker common.Address) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/unstake", staking.UnstakeRequest{Staker: staker.Hex()})
}

func balance(t *testing.T, svc *staking.Service, a, holder common.Address) uint64 {
	t.Helper()
	v, err := svc.Balance(context.Background(), a, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v.Uint64()
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorResp {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	resp := decode[errorResp](t, w)
	if resp.Code != code {
		t.Errorf("expected code %s, got %s (%s)", code, resp.Code, resp.Error)
	}
	return resp
}

// --- Initialization ---

func TestInitialize(t *testing.T) {
	_, _, router := newTestEnv(t, staking.Options{})

	w := do(t, router, "GET", "/api/v1/configuration", nil)
	expectError(t, w, http.StatusPreconditionFailed, "NotInitialized")

	w = do(t, router, "POST", "/api/v1/initialize", staking.InitializeRequest{
		StakingAsset: stAsset.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "100",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/configuration", nil)
	cfg := decode[configResp](t, w)
	if cfg.RewardRate != "100" || cfg.RewardDivisor != "1000" || cfg.TotalReservedRewards != "0" {
		t.Errorf("unexpected configuration: %+v", cfg)
	}
	if cfg.RewardRatePercent != "10%" {
		t.Errorf("expected 10%%, got %s", cfg.RewardRatePercent)
	}
	if cfg.StakingAsset != stAsset.Hex() || cfg.LedgerAddress != self.Hex() {
		t.Errorf("unexpected addresses: %+v", cfg)
	}

	w = do(t, router, "POST", "/api/v1/initialize", staking.InitializeRequest{
		StakingAsset: stAsset.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "200",
	})
	expectError(t, w, http.StatusConflict, "AlreadyInitialized")
}

func TestInitialize_Invalid(t *testing.T) {
	zero := common.Address{}.Hex()
	tests := []struct {
		name string
		req  staking.InitializeRequest
		code string
	}{
		{"zero staking asset", staking.InitializeRequest{StakingAsset: zero, RewardAsset: rtAsset.Hex(), RewardRate: "100"}, "InvalidStakingAsset"},
		{"zero reward asset", staking.InitializeRequest{StakingAsset: stAsset.Hex(), RewardAsset: zero, RewardRate: "100"}, "InvalidRewardAsset"},
		{"zero rate", staking.InitializeRequest{StakingAsset: stAsset.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "0"}, "InvalidRewardRate"},
		{"rate above divisor", staking.InitializeRequest{StakingAsset: stAsset.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "1001"}, "InvalidRewardRate"},
		{"garbage rate", staking.InitializeRequest{StakingAsset: stAsset.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "ten"}, "InvalidRewardRate"},
		{"unknown asset", staking.InitializeRequest{StakingAsset: bob.Hex(), RewardAsset: rtAsset.Hex(), RewardRate: "100"}, "UnknownAsset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, router := newTestEnv(t, staking.Options{})
			w := do(t, router, "POST", "/api/v1/initialize", tt.req)
			expectError(t, w, http.StatusBadRequest, tt.code)

			// A rejected initialize leaves the ledger uninitialized.
			w = do(t, router, "GET", "/api/v1/configuration", nil)
			expectError(t, w, http.StatusPreconditionFailed, "NotInitialized")
		})
	}
}

func TestStake_NotInitialized(t *testing.T) {
	_, _, router := newTestEnv(t, staking.Options{})
	w := stake(t, router, alice, "1000")
	expectError(t, w, http.StatusPreconditionFailed, "NotInitialized")
}

// --- Scenarios ---

func TestStake_ScenarioA(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")

	w := stake(t, router, alice, "1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ev := decode[eventResp](t, w)
	if ev.Type != model.EventStaked || ev.Staker != alice.Hex() || ev.Amount != "1000" || ev.Reward != "100" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ID == "" {
		t.Error("expected non-empty event id")
	}

	cfg := decode[configResp](t, do(t, router, "GET", "/api/v1/configuration", nil))
	if cfg.TotalReservedRewards != "100" {
		t.Errorf("expected reserved 100, got %s", cfg.TotalReservedRewards)
	}

	user := decode[userResp](t, do(t, router, "GET", "/api/v1/users/"+alice.Hex(), nil))
	if user.StakedAmount != "1000" || user.RewardOwed != "100" || user.User != alice.Hex() {
		t.Errorf("unexpected user info: %+v", user)
	}
	if user.StakedDisplay != "1000 ST" {
		t.Errorf("expected display 1000 ST, got %q", user.StakedDisplay)
	}

	if got := balance(t, svc, stAsset, alice); got != 0 {
		t.Errorf("alice should hold 0 ST, got %d", got)
	}
	if got := balance(t, svc, stAsset, self); got != 1000 {
		t.Errorf("ledger should hold 1000 ST, got %d", got)
	}
}

func TestStake_ScenarioB_ZeroReward(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")

	w := stake(t, router, alice, "5")
	expectError(t, w, http.StatusBadRequest, "ZeroRewardGenerated")
}

func TestStake_ZeroAmount(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)

	w := stake(t, router, alice, "0")
	expectError(t, w, http.StatusBadRequest, "InvalidStakeAmount")

	w = stake(t, router, alice, "-3")
	expectError(t, w, http.StatusBadRequest, "InvalidAmount")
}

func TestStakeUnstake_ScenarioC(t *testing.T) {
	svc, ms, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")

	if w := stake(t, router, alice, "1000"); w.Code != http.StatusOK {
		t.Fatalf("stake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := unstake(t, router, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("unstake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ev := decode[eventResp](t, w)
	if ev.Type != model.EventUnstaked || ev.Amount != "1000" || ev.Reward != "100" {
		t.Errorf("unexpected event: %+v", ev)
	}

	user := decode[userResp](t, do(t, router, "GET", "/api/v1/users/"+alice.Hex(), nil))
	if user.StakedAmount != "0" || user.RewardOwed != "0" {
		t.Errorf("position should be cleared: %+v", user)
	}
	cfg := decode[configResp](t, do(t, router, "GET", "/api/v1/configuration", nil))
	if cfg.TotalReservedRewards != "0" {
		t.Errorf("expected reserved 0, got %s", cfg.TotalReservedRewards)
	}

	if got := balance(t, svc, stAsset, alice); got != 1000 {
		t.Errorf("alice should get principal back, has %d ST", got)
	}
	if got := balance(t, svc, rtAsset, alice); got != 100 {
		t.Errorf("alice should be paid 100 RT, has %d", got)
	}
	if got := balance(t, svc, rtAsset, self); got != 0 {
		t.Errorf("pool should be empty, has %d", got)
	}

	events, _ := ms.ListEventsByUser(context.Background(), alice)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != model.EventStaked || events[1].Type != model.EventUnstaked {
		t.Errorf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestStake_ScenarioD_SharedReservation(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 150)
	approve(t, router, alice, "1000")
	approve(t, router, bob, "1000")

	if w := stake(t, router, alice, "1000"); w.Code != http.StatusOK {
		t.Fatalf("alice stake: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 100 reserved for alice + 100 for bob exceeds the pool of 150.
	w := stake(t, router, bob, "1000")
	resp := expectError(t, w, http.StatusConflict, "InsufficientRewardTokens")
	if resp.Deficit != "50" {
		t.Errorf("expected deficit 50, got %q", resp.Deficit)
	}

	// A smaller stake that fits the remaining 50 succeeds.
	if w := stake(t, router, bob, "500"); w.Code != http.StatusOK {
		t.Fatalf("bob stake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cfg := decode[configResp](t, do(t, router, "GET", "/api/v1/configuration", nil))
	if cfg.TotalReservedRewards != "150" {
		t.Errorf("expected reserved 150, got %s", cfg.TotalReservedRewards)
	}
}

func TestUnstake_ScenarioE_NoActiveStake(t *testing.T) {
	svc, ms, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)

	w := unstake(t, router, alice)
	expectError(t, w, http.StatusConflict, "NoActiveStake")

	events, _ := ms.ListEvents(context.Background(), 0)
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	positions, _ := ms.ListPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("failed unstake should not create a position, got %d", len(positions))
	}
}

// --- Transfer failure policy ---

func TestStake_StrictPolicyRollsBack(t *testing.T) {
	svc, ms, router := newTestEnv(t, staking.Options{Policy: ledger.PolicyStrict})
	seedLedger(t, svc, 100)

	// No approval: the pull transfer fails after accounting was written.
	w := stake(t, router, alice, "1000")
	expectError(t, w, http.StatusUnprocessableEntity, "TransferFailed")

	cfg := decode[configResp](t, do(t, router, "GET", "/api/v1/configuration", nil))
	if cfg.TotalReservedRewards != "0" {
		t.Errorf("reservation should be rolled back, got %s", cfg.TotalReservedRewards)
	}
	user := decode[userResp](t, do(t, router, "GET", "/api/v1/users/"+alice.Hex(), nil))
	if user.StakedAmount != "0" {
		t.Errorf("position should be rolled back: %+v", user)
	}
	events, _ := ms.ListEvents(context.Background(), 0)
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestStake_LenientPolicyKeepsAccounting(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{Policy: ledger.PolicyLenient})
	seedLedger(t, svc, 100)

	w := stake(t, router, alice, "1000")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	user := decode[userResp](t, do(t, router, "GET", "/api/v1/users/"+alice.Hex(), nil))
	if user.StakedAmount != "1000" || user.RewardOwed != "100" {
		t.Errorf("accounting should be kept: %+v", user)
	}
	if got := balance(t, svc, stAsset, alice); got != 1000 {
		t.Errorf("failed pull should leave alice's tokens, has %d", got)
	}
}

// --- Queries and asset endpoints ---

func TestPreviewStake(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 50)

	w := do(t, router, "GET", "/api/v1/stake/preview?amount=1000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p := decode[struct {
		Reward  string `json:"reward"`
		Covered bool   `json:"covered"`
		Deficit string `json:"deficit"`
	}](t, w)
	if p.Reward != "100" || p.Covered || p.Deficit != "50" {
		t.Errorf("unexpected preview: %+v", p)
	}

	w = do(t, router, "GET", "/api/v1/stake/preview?amount=5", nil)
	expectError(t, w, http.StatusBadRequest, "ZeroRewardGenerated")
}

func TestUserInfo_UnknownUserReadsZero(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 0)

	w := do(t, router, "GET", "/api/v1/users/"+bob.Hex(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	user := decode[userResp](t, w)
	if user.StakedAmount != "0" || user.RewardOwed != "0" || user.User != bob.Hex() {
		t.Errorf("unexpected user info: %+v", user)
	}

	w = do(t, router, "GET", "/api/v1/users/not-an-address", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestEvents_FilterByUser(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 1000)
	approve(t, router, alice, "1000")
	approve(t, router, bob, "1000")
	stake(t, router, alice, "1000")
	stake(t, router, bob, "1000")
	unstake(t, router, alice)

	all := decode[[]eventResp](t, do(t, router, "GET", "/api/v1/events", nil))
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	mine := decode[[]eventResp](t, do(t, router, "GET", "/api/v1/events?user="+bob.Hex(), nil))
	if len(mine) != 1 || mine[0].Staker != bob.Hex() {
		t.Errorf("unexpected bob events: %+v", mine)
	}
	tail := decode[[]eventResp](t, do(t, router, "GET", "/api/v1/events?limit=1", nil))
	if len(tail) != 1 || tail[0].Type != model.EventUnstaked {
		t.Errorf("unexpected tail: %+v", tail)
	}
}

func TestAssetTransfer_FundsPool(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 0)

	w := do(t, router, "POST", "/api/v1/assets/"+stAsset.Hex()+"/transfer", staking.TransferRequest{
		From: alice.Hex(), To: bob.Hex(), Amount: "250",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := balance(t, svc, stAsset, bob); got != 1250 {
		t.Errorf("bob should hold 1250, has %d", got)
	}

	w = do(t, router, "POST", "/api/v1/assets/"+stAsset.Hex()+"/transfer", staking.TransferRequest{
		From: alice.Hex(), To: bob.Hex(), Amount: "5000",
	})
	expectError(t, w, http.StatusConflict, "InsufficientBalance")

	b := decode[struct {
		Balance string `json:"balance"`
		Display string `json:"display"`
	}](t, do(t, router, "GET", "/api/v1/assets/"+stAsset.Hex()+"/balances/"+bob.Hex(), nil))
	if b.Balance != "1250" || b.Display != "1250 ST" {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestAssetTransfer_LedgerAccountCannotBeSpent(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")
	if w := stake(t, router, alice, "1000"); w.Code != http.StatusOK {
		t.Fatalf("stake: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	for _, a := range []common.Address{rtAsset, stAsset} {
		w := do(t, router, "POST", "/api/v1/assets/"+a.Hex()+"/transfer", staking.TransferRequest{
			From: self.Hex(), To: bob.Hex(), Amount: "100",
		})
		expectError(t, w, http.StatusForbidden, "LedgerAccount")
	}
	w := do(t, router, "POST", "/api/v1/assets/"+rtAsset.Hex()+"/approve", staking.ApproveRequest{
		Owner: self.Hex(), Spender: bob.Hex(), Amount: "100",
	})
	expectError(t, w, http.StatusForbidden, "LedgerAccount")

	if got := balance(t, svc, rtAsset, bob); got != 0 {
		t.Errorf("bob should hold no RT, has %d", got)
	}
	if got := balance(t, svc, stAsset, self); got != 1000 {
		t.Errorf("ledger custody should stay 1000, has %d", got)
	}

	// Funding the pool is still allowed.
	w = do(t, router, "POST", "/api/v1/assets/"+stAsset.Hex()+"/transfer", staking.TransferRequest{
		From: bob.Hex(), To: self.Hex(), Amount: "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := unstake(t, router, alice); w.Code != http.StatusOK {
		t.Fatalf("unstake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := balance(t, svc, rtAsset, alice); got != 100 {
		t.Errorf("alice should be paid 100 RT, has %d", got)
	}
}

func TestUnstake_LenientOverflowKeepsPrincipal(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{Policy: ledger.PolicyLenient})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")
	if w := stake(t, router, alice, "1000"); w.Code != http.StatusOK {
		t.Fatalf("stake: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Push alice's wallet so the principal can no longer be credited.
	nearFull := new(uint256.Int).SubUint64(new(uint256.Int).SetAllOne(), 500)
	if err := svc.Credit(context.Background(), stAsset, alice, nearFull); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if w := unstake(t, router, alice); w.Code != http.StatusOK {
		t.Fatalf("unstake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := balance(t, svc, stAsset, self); got != 1000 {
		t.Errorf("failed credit must not burn custody, ledger holds %d", got)
	}
	held, err := svc.Balance(context.Background(), stAsset, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !held.Eq(nearFull) {
		t.Errorf("alice's wallet should be unchanged, got %s", held.Dec())
	}
}

func TestMint_FaucetGate(t *testing.T) {
	_, _, router := newTestEnv(t, staking.Options{})
	w := do(t, router, "POST", "/api/v1/assets/"+rtAsset.Hex()+"/mint", staking.MintRequest{To: alice.Hex(), Amount: "10"})
	if w.Code == http.StatusOK {
		t.Fatal("mint should not be routed with the faucet disabled")
	}

	svc, _, router := newTestEnv(t, staking.Options{Faucet: true})
	w = do(t, router, "POST", "/api/v1/assets/"+rtAsset.Hex()+"/mint", staking.MintRequest{To: alice.Hex(), Amount: "10"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := balance(t, svc, rtAsset, alice); got != 10 {
		t.Errorf("alice should hold 10 RT, has %d", got)
	}
}

func TestAudit_HealthyAfterStake(t *testing.T) {
	svc, _, router := newTestEnv(t, staking.Options{})
	seedLedger(t, svc, 100)
	approve(t, router, alice, "1000")
	stake(t, router, alice, "1000")

	w := do(t, router, "GET", "/api/v1/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rep := decode[struct {
		Violations []string `json:"violations"`
		Positions  int      `json:"positions"`
	}](t, w)
	if len(rep.Violations) != 0 || rep.Positions != 1 {
		t.Errorf("unexpected audit: %+v", rep)
	}
}
