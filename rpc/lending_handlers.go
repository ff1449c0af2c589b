package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"lendpool/core/types"
	"lendpool/native/lending"
)

type amountParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type collateralParams struct {
	Borrower string `json:"borrower"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

type liquidationParams struct {
	Caller   string `json:"caller"`
	Borrower string `json:"borrower"`
}

type recoverParams struct {
	Borrower string `json:"borrower"`
	Asset    string `json:"asset,omitempty"`
	Amount   string `json:"amount"`
}

type upkeepParams struct {
	Data json.RawMessage `json:"data"`
}

type policyParams struct {
	Caller                  string `json:"caller"`
	AssetID                 string `json:"assetId"`
	IsStable                bool   `json:"isStable"`
	LTVBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
}

type creditScoreParams struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
	Score   uint64 `json:"score"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type emergencyParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type addressParams struct {
	Address string `json:"address"`
}

type depositResult struct {
	SharesMinted string `json:"sharesMinted"`
}

type repayResult struct {
	Applied  string `json:"applied"`
	Refunded string `json:"refunded"`
}

type liquidatableResult struct {
	Liquidatable bool `json:"liquidatable"`
}

type upkeepResult struct {
	Needed bool            `json:"needed"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type positionResult struct {
	Address         string `json:"address"`
	Balance         string `json:"balance"`
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateralValue"`
	Healthy         bool   `json:"healthy"`
	RatioBps        uint64 `json:"ratioBps"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type collateralValueResult struct {
	CollateralValue string `json:"collateralValue"`
}

type collateralizationResult struct {
	Healthy  bool   `json:"healthy"`
	RatioBps uint64 `json:"ratioBps"`
}

type poolResult struct {
	Balance           string            `json:"balance"`
	TotalDebt         string            `json:"totalDebt"`
	TotalSupplyShares string            `json:"totalSupplyShares"`
	Paused            bool              `json:"paused"`
	Custody           map[string]string `json:"custody"`
	Treasury          map[string]string `json:"treasury"`
}

type ratesResult struct {
	UtilizationBps uint64 `json:"utilizationBps"`
	BorrowRateBps  uint64 `json:"borrowRateBps"`
	SupplyRateBps  uint64 `json:"supplyRateBps"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

func decodeAddress(s string) (types.Address, error) {
	return types.ParseAddress(strings.TrimSpace(s))
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive decimal string")
	}
	return amount, nil
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	minted, err := s.manager.Deposit(addr, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositResult{SharesMinted: minted.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.Withdraw(addr, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params collateralParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.DepositCollateral(addr, strings.TrimSpace(params.Asset), amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params collateralParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.WithdrawCollateral(addr, strings.TrimSpace(params.Asset), amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.Borrow(addr, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	applied, refund, err := s.manager.Repay(addr, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, repayResult{Applied: applied.String(), Refunded: refund.String()})
}

func (s *Server) handleCheckLiquidatable(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	liquidatable, err := s.manager.CheckLiquidatable(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, liquidatableResult{Liquidatable: liquidatable})
}

func (s *Server) handleStartLiquidation(w http.ResponseWriter, req *RPCRequest) {
	var params liquidationParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	borrower, err := decodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	if err := s.manager.StartLiquidation(caller, borrower); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleRecoverFromLiquidation(w http.ResponseWriter, req *RPCRequest) {
	var params recoverParams
	if !decodeParams(w, req, &params) {
		return
	}
	borrower, err := decodeAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.RecoverFromLiquidation(borrower, strings.TrimSpace(params.Asset), amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleCheckUpkeep(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	needed, data, err := s.manager.CheckUpkeep()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, upkeepResult{Needed: needed, Data: data})
}

func (s *Server) handlePerformUpkeep(w http.ResponseWriter, req *RPCRequest) {
	var params upkeepParams
	if !decodeParams(w, req, &params) {
		return
	}
	if len(params.Data) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "data required", nil)
		return
	}
	if err := s.manager.PerformUpkeep(params.Data); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.manager.BalanceOf(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	debt, err := s.manager.DebtOf(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	value, err := s.manager.TotalCollateralValue(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	healthy, ratio, err := s.manager.CheckCollateralization(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResult{
		Address:         addr.Hex(),
		Balance:         balance.String(),
		Debt:            debt.String(),
		CollateralValue: value.String(),
		Healthy:         healthy,
		RatioBps:        ratio,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.manager.BalanceOf(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleGetTotalCollateralValue(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	value, err := s.manager.TotalCollateralValue(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, collateralValueResult{CollateralValue: value.String()})
}

func (s *Server) handleCheckCollateralization(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	healthy, ratio, err := s.manager.CheckCollateralization(addr)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, collateralizationResult{Healthy: healthy, RatioBps: ratio})
}

func (s *Server) handleGetPool(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	pool, err := s.manager.PoolSnapshot()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolResult{
		Balance:           pool.Balance.String(),
		TotalDebt:         pool.TotalDebt.String(),
		TotalSupplyShares: pool.TotalSupplyShares.String(),
		Paused:            pool.Paused,
		Custody:           amountMapToStrings(pool.Custody),
		Treasury:          amountMapToStrings(pool.Treasury),
	})
}

func (s *Server) handleGetRates(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	utilization, borrow, supply, err := s.manager.Rates()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ratesResult{
		UtilizationBps: utilization,
		BorrowRateBps:  borrow,
		SupplyRateBps:  supply,
	})
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, req *RPCRequest) {
	var params policyParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	policy := lending.AssetPolicy{
		AssetID:                 strings.TrimSpace(params.AssetID),
		IsStable:                params.IsStable,
		LTVBps:                  params.LTVBps,
		LiquidationThresholdBps: params.LiquidationThresholdBps,
	}
	if err := s.manager.SetPolicy(caller, policy); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetCreditScore(w http.ResponseWriter, req *RPCRequest) {
	var params creditScoreParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	account, err := decodeAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	if err := s.manager.SetCreditScore(caller, account, params.Score); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.manager.Pause(caller); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.manager.Unpause(caller); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params emergencyParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.manager.EmergencyWithdraw(caller, strings.TrimSpace(params.Asset), amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleOracleHealth(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "price oracle not configured", nil)
		return
	}
	writeResult(w, req.ID, s.prices.Health())
}

func (s *Server) handleReputationGet(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if s.reputation == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "reputation ledger not configured", nil)
		return
	}
	record, err := s.reputation.Record(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, record)
}

func amountMapToStrings(m map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(m))
	for asset, amount := range m {
		if amount == nil {
			out[asset] = "0"
			continue
		}
		out[asset] = amount.String()
	}
	return out
}
