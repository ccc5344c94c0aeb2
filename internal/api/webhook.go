package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/service"
)

const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayPaymentCaptured = "payment.captured"

	purposeActivation = "activation"
	purposeRenewal    = "renewal"
)

// razorpayEvent is the subset of a Razorpay webhook the platform reads.
// Amounts are in paise; the checkout puts the member and plan in notes.
type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
				Notes  struct {
					UserID  string `json:"user_id"`
					PlanID  string `json:"plan_id"`
					Purpose string `json:"purpose"`
				} `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifySignature checks a Razorpay webhook signature: hex HMAC-SHA256 of
// the raw body under the webhook secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// razorpayWebhook turns a captured payment into an activation or a cap
// renewal. Replays are answered 200 with applied=false.
func (s *Server) razorpayWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abort(c, http.StatusBadRequest, reasonBadRequest)
		return
	}
	if !VerifySignature(s.deps.Config.Razorpay.WebhookSecret, body, c.GetHeader(razorpaySignatureHeader)) {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("Rejected webhook with bad signature")
		abort(c, http.StatusUnauthorized, reasonBadSignature)
		return
	}

	var evt razorpayEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		abort(c, http.StatusBadRequest, reasonBadRequest)
		return
	}
	if evt.Event != razorpayPaymentCaptured {
		ok(c, gin.H{"ignored": evt.Event})
		return
	}

	payment := evt.Payload.Payment.Entity
	notes := payment.Notes
	if payment.ID == "" || !validID(notes.UserID) {
		abort(c, http.StatusBadRequest, service.ReasonInvalidInput)
		return
	}
	amount := decimal.New(payment.Amount, -2)
	ctx := c.Request.Context()

	logger := log.With().
		Str("payment_id", payment.ID).
		Str("user_id", notes.UserID).
		Str("purpose", notes.Purpose).
		Logger()

	switch notes.Purpose {
	case purposeActivation, "":
		a, created, err := s.deps.Activations.ActivateFromGateway(ctx, payment.ID, notes.UserID, notes.PlanID, amount)
		if err != nil {
			logger.Error().Err(err).Msg("Gateway activation failed")
			fail(c, err)
			return
		}
		logger.Info().Bool("created", created).Msg("Gateway payment applied")
		ok(c, gin.H{"activationId": a.ID, "applied": created})
	case purposeRenewal:
		rn, applied, err := s.deps.Renewals.Renew(ctx, service.RenewInput{
			UserID:    notes.UserID,
			Method:    model.RenewalByGateway,
			Reference: payment.ID,
			Paid:      amount,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Gateway renewal failed")
			fail(c, err)
			return
		}
		logger.Info().Bool("applied", applied).Msg("Gateway payment applied")
		ok(c, gin.H{"renewalId": rn.ID, "applied": applied})
	default:
		abort(c, http.StatusBadRequest, service.ReasonInvalidInput)
	}
}
