package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeops/internal/reconcile"
)

func (s *Server) registerReconcileRoutes(api *gin.RouterGroup) {
	api.GET("/reconciliations", s.listReconciliations)
	api.POST("/reconciliations", s.startReconciliation)
	api.GET("/reconciliations/:key", s.getReconciliation)
	api.POST("/reconciliations/:key/match", s.matchTransactions)
	api.POST("/reconciliations/:key/unmatch", s.unmatchTransactions)
	api.POST("/reconciliations/:key/complete", s.completeReconciliation)
}

type matchRequest struct {
	TransactionKeys []string `json:"transaction_keys"`
}

type completeRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) listReconciliations(c *gin.Context) {
	recs, err := s.reconcile.List(c.Request.Context(), familyOf(c), c.Query("account"))
	s.respond(c, http.StatusOK, nonNil(recs), err)
}

func (s *Server) startReconciliation(c *gin.Context) {
	var in reconcile.StartInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	r, err := s.reconcile.Start(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, r, err)
}

func (s *Server) getReconciliation(c *gin.Context) {
	r, err := s.reconcile.Get(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) matchTransactions(c *gin.Context) {
	var req matchRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	r, err := s.reconcile.Match(c.Request.Context(), familyOf(c), c.Param("key"), req.TransactionKeys)
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) unmatchTransactions(c *gin.Context) {
	var req matchRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	r, err := s.reconcile.Unmatch(c.Request.Context(), familyOf(c), c.Param("key"), req.TransactionKeys)
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) completeReconciliation(c *gin.Context) {
	var req completeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	r, err := s.reconcile.Complete(c.Request.Context(), familyOf(c), c.Param("key"), req.Notes)
	s.respond(c, http.StatusOK, r, err)
}
