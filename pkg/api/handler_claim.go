package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocero-ai/vocero/pkg/auth"
	"github.com/vocero-ai/vocero/pkg/store"
)

// claimResponse carries the dispatch identity and the one-shot join
// token. This response is the only place the token ever leaves the
// control plane.
type claimResponse struct {
	DispatchID    string `json:"dispatch_id"`
	CallID        string `json:"call_id"`
	TenantID      string `json:"tenant_id"`
	AgentID       string `json:"agent_id"`
	TraceID       string `json:"trace_id"`
	Room          string `json:"room"`
	TwilioCallSID string `json:"twilio_call_sid"`
	JoinToken     string `json:"join_token"`
}

// HandleClaimDispatch performs the one-shot claim. The bearer must
// present a dispatch:claim service credential whose tenant matches the
// dispatch; exactly one claimant ever receives the token.
func (s *Server) HandleClaimDispatch(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
		return
	}
	claims, err := s.tokens.Verify(token, auth.ScopeDispatchClaim)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	dispatchID := c.Param("id")

	// Tenant check happens before the claim so a cross-tenant probe
	// cannot burn the token. Unknown ids are indistinguishable from
	// other tenants' ids on purpose.
	existing, err := s.store.GetDispatch(c.Request.Context(), dispatchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.DispatchClaims.WithLabelValues("not_found").Inc()
		}
		respondStoreError(c, err)
		return
	}
	if existing.TenantID != claims.TenantID {
		s.metrics.DispatchClaims.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	d, err := s.store.ClaimDispatch(c.Request.Context(), dispatchID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDispatchUnavailable):
			s.metrics.DispatchClaims.WithLabelValues("unavailable").Inc()
		case errors.Is(err, store.ErrDispatchExpired):
			s.metrics.DispatchClaims.WithLabelValues("expired").Inc()
		}
		respondStoreError(c, err)
		return
	}

	s.metrics.DispatchClaims.WithLabelValues("claimed").Inc()
	slog.Info("Dispatch claimed",
		"dispatch_id", d.ID, "call_id", d.CallID, "trace_id", d.TraceID,
		"tenant_id", d.TenantID, "claimed_by", claims.Subject)

	c.JSON(http.StatusOK, claimResponse{
		DispatchID:    d.ID,
		CallID:        d.CallID,
		TenantID:      d.TenantID,
		AgentID:       d.AgentID,
		TraceID:       d.TraceID,
		Room:          d.Room,
		TwilioCallSID: d.TwilioCallSID,
		JoinToken:     d.JoinToken,
	})
}
