package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/service"
)

type adminActivateRequest struct {
	PlanID string          `json:"planId" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type adminRenewRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type uplineRequest struct {
	ReferrerID string `json:"referrerId" binding:"required"`
}

type statusRequest struct {
	Status model.UserStatus `json:"status" binding:"required"`
}

type verifyRequest struct {
	KYCStatus    model.KYCStatus `json:"kycStatus" binding:"required"`
	BankVerified bool            `json:"bankVerified"`
}

type adjustRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required"`
	Note      string          `json:"note"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) getSettings(c *gin.Context) {
	snap, err := s.deps.Settings.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getSettingsSection(c *gin.Context) {
	doc, err := s.deps.Settings.Section(c.Request.Context(), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (s *Server) putSettingsSection(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		abort(c, http.StatusBadRequest, reasonBadRequest)
		return
	}
	doc, err := s.deps.Settings.Save(c.Request.Context(), c.Param("key"), raw, c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (s *Server) listWithdrawals(c *gin.Context) {
	status := model.WithdrawalStatus(c.DefaultQuery("status", string(model.WithdrawalRequested)))
	list, err := s.deps.Withdrawals.ListByStatus(c.Request.Context(), status, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

type withdrawalTransition func(s *Server, c *gin.Context, id, adminID string) (*model.Withdrawal, error)

func (s *Server) withdrawalAction(c *gin.Context, do withdrawalTransition) {
	id, found := idParam(c)
	if !found {
		return
	}
	w, err := do(s, c, id, c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"withdrawal": w})
}

func (s *Server) reviewWithdrawal(c *gin.Context) {
	s.withdrawalAction(c, func(s *Server, c *gin.Context, id, adminID string) (*model.Withdrawal, error) {
		return s.deps.Withdrawals.Review(c.Request.Context(), id, adminID)
	})
}

func (s *Server) approveWithdrawal(c *gin.Context) {
	s.withdrawalAction(c, func(s *Server, c *gin.Context, id, adminID string) (*model.Withdrawal, error) {
		return s.deps.Withdrawals.Approve(c.Request.Context(), id, adminID)
	})
}

func (s *Server) payWithdrawal(c *gin.Context) {
	s.withdrawalAction(c, func(s *Server, c *gin.Context, id, adminID string) (*model.Withdrawal, error) {
		return s.deps.Withdrawals.MarkPaid(c.Request.Context(), id, adminID)
	})
}

func (s *Server) rejectWithdrawal(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	s.withdrawalAction(c, func(s *Server, c *gin.Context, id, adminID string) (*model.Withdrawal, error) {
		return s.deps.Withdrawals.Reject(c.Request.Context(), id, adminID, req.Reason)
	})
}

func (s *Server) adminActivate(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req adminActivateRequest
	if !bind(c, &req) {
		return
	}
	a, err := s.deps.Activations.AdminActivate(c.Request.Context(), c.GetString(ctxUserID), id, req.PlanID, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"activationId": a.ID})
}

func (s *Server) adminRenew(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req adminRenewRequest
	if !bind(c, &req) {
		return
	}
	rn, applied, err := s.deps.Renewals.Renew(c.Request.Context(), service.RenewInput{
		UserID:    id,
		Method:    model.RenewalByAdmin,
		Reference: req.Reference,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"renewalId": rn.ID, "applied": applied})
}

func (s *Server) changeUpline(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req uplineRequest
	if !bind(c, &req) {
		return
	}
	if !validID(req.ReferrerID) {
		abort(c, http.StatusBadRequest, service.ReasonInvalidInput)
		return
	}
	if err := s.deps.Accounts.ChangeUpline(c.Request.Context(), id, req.ReferrerID, c.GetString(ctxUserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) setStatus(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req statusRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.SetStatus(c.Request.Context(), id, req.Status, c.GetString(ctxUserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) unblock(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	if err := s.deps.Accounts.Unblock(c.Request.Context(), id, c.GetString(ctxUserID)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) setVerification(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req verifyRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.SetVerification(c.Request.Context(), id, req.KYCStatus, req.BankVerified); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) adjustBalance(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	var req adjustRequest
	if !bind(c, &req) {
		return
	}
	entry, applied, err := s.deps.Wallets.AdjustBalance(c.Request.Context(), id, req.Amount, req.Reference, c.GetString(ctxUserID), req.Note)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"applied": applied, "balanceAfter": entry.BalanceAfter})
}

func (s *Server) verifyLedger(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	check, err := s.deps.Wallets.VerifyLedger(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) reprocessActivation(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	report, err := s.deps.Referrals.ReprocessActivation(c.Request.Context(), id, c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) previewActivation(c *gin.Context) {
	id, found := idParam(c)
	if !found {
		return
	}
	preview, err := s.deps.Referrals.PreviewActivation(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}
