package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/service"
)

type referralCodeRequest struct {
	ReferralCode string `json:"referralCode"`
}

type registerRequest struct {
	Email        string        `json:"email"`
	Name         string        `json:"name" binding:"required"`
	ReferralCode string        `json:"referralCode"`
	Program      model.Program `json:"program"`
}

type sponsorActivationRequest struct {
	TargetUserID string          `json:"targetUserId" binding:"required"`
	PlanID       string          `json:"planId" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	RecipientEmail string          `json:"recipientEmail" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note"`
}

type withdrawalRequest struct {
	Amount        decimal.Decimal     `json:"amount"`
	Method        model.PayoutMethod  `json:"method" binding:"required"`
	PayoutDetails model.PayoutDetails `json:"payoutDetails"`
}

type renewCapRequest struct {
	Method    model.RenewalMethod `json:"method" binding:"required"`
	UserID    string              `json:"userId"`
	Reference string              `json:"reference" binding:"required"`
}

type processPendingRequest struct {
	Force bool `json:"force"`
}

// bind decodes the JSON body, answering 400 on malformed input.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": reasonBadRequest, "detail": err.Error()})
		return false
	}
	return true
}

func (s *Server) validateReferralCode(c *gin.Context) {
	var req referralCodeRequest
	if !bind(c, &req) {
		return
	}
	check, err := s.deps.Referrals.ValidateReferralCode(c.Request.Context(), req.ReferralCode)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	claims := claimsOf(c)
	email := req.Email
	if claims.Email != "" {
		email = claims.Email
	}

	user, err := s.deps.Accounts.Register(c.Request.Context(), service.RegisterInput{
		UserID:        claims.Subject,
		Email:         email,
		Name:          req.Name,
		ReferralCode:  req.ReferralCode,
		Program:       req.Program,
		EmailVerified: claims.EmailVerified,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"referralCode": user.ReferralCode, "userId": user.ID})
}

func (s *Server) createSponsorActivation(c *gin.Context) {
	var req sponsorActivationRequest
	if !bind(c, &req) {
		return
	}
	a, err := s.deps.Activations.CreateSponsorActivation(c.Request.Context(),
		c.GetString(ctxUserID), req.TargetUserID, req.PlanID, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"activationId": a.ID})
}

func (s *Server) createUserTransfer(c *gin.Context) {
	var req transferRequest
	if !bind(c, &req) {
		return
	}
	t, err := s.deps.Transfers.CreateUserTransfer(c.Request.Context(),
		c.GetString(ctxUserID), req.RecipientEmail, req.Amount, req.Note)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"transferId": t.ID, "fee": t.Fee, "netAmount": t.NetAmount})
}

func (s *Server) createWithdrawalRequest(c *gin.Context) {
	var req withdrawalRequest
	if !bind(c, &req) {
		return
	}
	w, err := s.deps.Withdrawals.RequestWithdrawal(c.Request.Context(), service.WithdrawalRequest{
		UserID:  c.GetString(ctxUserID),
		Amount:  req.Amount,
		Method:  req.Method,
		Details: req.PayoutDetails,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"withdrawalId": w.ID, "fee": w.FeeAmount, "netAmount": w.NetAmount})
}

// renewCap lets a member renew their own cap from the wallet, or pay for a
// downline's renewal as sponsor.
func (s *Server) renewCap(c *gin.Context) {
	var req renewCapRequest
	if !bind(c, &req) {
		return
	}
	caller := c.GetString(ctxUserID)
	in := service.RenewInput{Method: req.Method, Reference: req.Reference}
	switch req.Method {
	case model.RenewalByWallet:
		in.UserID = caller
	case model.RenewalBySponsor:
		if req.UserID == "" {
			abort(c, http.StatusBadRequest, service.ReasonInvalidInput)
			return
		}
		in.UserID = req.UserID
		in.PayerID = caller
	default:
		abort(c, http.StatusBadRequest, service.ReasonRenewalMethod)
		return
	}

	rn, applied, err := s.deps.Renewals.Renew(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"renewalId": rn.ID, "applied": applied})
}

func (s *Server) processAllPending(c *gin.Context) {
	var req processPendingRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	report, err := s.deps.Referrals.ProcessAllPending(c.Request.Context(), req.Force)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) syncWalletBalances(c *gin.Context) {
	report, err := s.deps.Wallets.SyncWalletBalances(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
