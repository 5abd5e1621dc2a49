package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeops/internal/core"
	"lifeops/internal/ledger"
)

func (s *Server) registerLedgerRoutes(api *gin.RouterGroup) {
	api.GET("/accounts", s.listAccounts)
	api.POST("/accounts", s.createAccount)
	api.GET("/accounts/:key", s.getAccount)
	api.PATCH("/accounts/:key", s.updateAccount)
	api.DELETE("/accounts/:key", s.deleteAccount)
	api.POST("/accounts/:key/recompute", s.recomputeAccount)

	api.GET("/transactions", s.listTransactions)
	api.POST("/transactions", s.createTransaction)
	api.GET("/transactions/:key", s.getTransaction)
	api.PATCH("/transactions/:key", s.updateTransaction)
	api.DELETE("/transactions/:key", s.deleteTransaction)
	api.POST("/transactions/:key/clear", s.clearTransaction)
	api.POST("/transactions/:key/void", s.voidTransaction)
	api.POST("/transactions/:key/correct", s.correctTransaction)

	api.POST("/transfers", s.createTransfer)

	api.GET("/bills", s.listBills)
	api.POST("/bills", s.createBill)
	api.GET("/bills/:key", s.getBill)
	api.DELETE("/bills/:key", s.deleteBill)
	api.POST("/bills/:key/pay", s.payBill)
}

// Accounts

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.ledger.ListAccounts(c.Request.Context(), familyOf(c))
	s.respond(c, http.StatusOK, nonNil(accounts), err)
}

func (s *Server) createAccount(c *gin.Context) {
	var in ledger.AccountInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	a, err := s.ledger.CreateAccount(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, a, err)
}

func (s *Server) getAccount(c *gin.Context) {
	a, err := s.ledger.GetAccount(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, a, err)
}

func (s *Server) updateAccount(c *gin.Context) {
	var patch ledger.AccountPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	a, err := s.ledger.UpdateAccount(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, a, err)
}

func (s *Server) deleteAccount(c *gin.Context) {
	s.respondNoContent(c, s.ledger.DeleteAccount(c.Request.Context(), familyOf(c), c.Param("key")))
}

func (s *Server) recomputeAccount(c *gin.Context) {
	a, err := s.ledger.RecomputeBalance(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, a, err)
}

// Transactions

func (s *Server) listTransactions(c *gin.Context) {
	includeVoid, err := queryBool(c, "include_void")
	if err != nil {
		s.writeError(c, err)
		return
	}
	txs, err := s.ledger.ListTransactions(c.Request.Context(), familyOf(c), ledger.TransactionFilter{
		AccountKey:  c.Query("account"),
		PeriodKey:   c.Query("period"),
		CategoryKey: c.Query("category"),
		IncludeVoid: includeVoid,
	})
	s.respond(c, http.StatusOK, nonNil(txs), err)
}

func (s *Server) createTransaction(c *gin.Context) {
	var in ledger.TransactionInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	t, err := s.ledger.CreateTransaction(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, t, err)
}

func (s *Server) getTransaction(c *gin.Context) {
	t, err := s.ledger.GetTransaction(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, t, err)
}

func (s *Server) updateTransaction(c *gin.Context) {
	var patch ledger.TransactionPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	t, err := s.ledger.UpdateTransaction(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, t, err)
}

func (s *Server) deleteTransaction(c *gin.Context) {
	s.respondNoContent(c, s.ledger.DeleteTransaction(c.Request.Context(), familyOf(c), c.Param("key")))
}

func (s *Server) clearTransaction(c *gin.Context) {
	t, err := s.ledger.ClearTransaction(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, t, err)
}

func (s *Server) voidTransaction(c *gin.Context) {
	t, err := s.ledger.VoidTransaction(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, t, err)
}

func (s *Server) correctTransaction(c *gin.Context) {
	var in ledger.CorrectionInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	t, err := s.ledger.CorrectTransaction(c.Request.Context(), familyOf(c), c.Param("key"), in)
	s.respond(c, http.StatusCreated, t, err)
}

func (s *Server) createTransfer(c *gin.Context) {
	var in ledger.TransferInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	t, err := s.ledger.CreateTransfer(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, t, err)
}

// Bills

func (s *Server) listBills(c *gin.Context) {
	bills, err := s.ledger.ListBills(c.Request.Context(), familyOf(c))
	s.respond(c, http.StatusOK, nonNil(bills), err)
}

func (s *Server) createBill(c *gin.Context) {
	var in ledger.BillInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	b, err := s.ledger.CreateBill(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, b, err)
}

func (s *Server) getBill(c *gin.Context) {
	b, err := s.ledger.GetBill(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, b, err)
}

func (s *Server) deleteBill(c *gin.Context) {
	s.respondNoContent(c, s.ledger.DeleteBill(c.Request.Context(), familyOf(c), c.Param("key")))
}

type payBillRequest struct {
	PaidDate core.Date `json:"paid_date"`
}

func (s *Server) payBill(c *gin.Context) {
	var req payBillRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.ledger.MarkBillPaid(c.Request.Context(), familyOf(c), c.Param("key"), req.PaidDate)
	s.respond(c, http.StatusOK, p, err)
}
