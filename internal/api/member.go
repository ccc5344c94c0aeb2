package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// validID reports whether id is a UUID; the database rejects anything else.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// idParam returns the :id path parameter, answering 404 when it is not a UUID.
func idParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !validID(id) {
		abort(c, http.StatusNotFound, reasonNotFound)
		return "", false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func (s *Server) me(c *gin.Context) {
	summary, err := s.deps.Reports.Me(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) myLedger(c *gin.Context) {
	entries, err := s.deps.Reports.Ledger(c.Request.Context(), c.GetString(ctxUserID),
		queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) myIncome(c *gin.Context) {
	report, err := s.deps.Reports.Income(c.Request.Context(), c.GetString(ctxUserID), queryInt(c, "limit", 20))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) myActivations(c *gin.Context) {
	list, err := s.deps.Activations.ListByUser(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activations": list})
}

func (s *Server) myWithdrawals(c *gin.Context) {
	list, err := s.deps.Withdrawals.ListByUser(c.Request.Context(), c.GetString(ctxUserID), queryInt(c, "limit", 20))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

func (s *Server) myTransfers(c *gin.Context) {
	list, err := s.deps.Transfers.ListByUser(c.Request.Context(), c.GetString(ctxUserID), queryInt(c, "limit", 20))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": list})
}

// telegramLink issues the token the member sends to the bot with /start.
func (s *Server) telegramLink(c *gin.Context) {
	token, err := s.deps.Auth.IssueLink(c.GetString(ctxUserID))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"token": token})
}
