package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeops/internal/budget"
	"lifeops/internal/core"
)

func (s *Server) registerBudgetRoutes(api *gin.RouterGroup) {
	api.GET("/groups", s.listGroups)
	api.POST("/groups", s.createGroup)
	api.PATCH("/groups/:key", s.updateGroup)
	api.DELETE("/groups/:key", s.deleteGroup)

	api.GET("/categories", s.listCategories)
	api.POST("/categories", s.createCategory)
	api.GET("/categories/:key", s.getCategory)
	api.PATCH("/categories/:key", s.updateCategory)
	api.DELETE("/categories/:key", s.deleteCategory)

	api.GET("/periods", s.listPeriods)
	api.POST("/periods", s.createPeriod)
	api.GET("/periods/:key", s.getPeriod)
	api.PATCH("/periods/:key", s.updatePeriod)
	api.DELETE("/periods/:key", s.deletePeriod)
	api.PUT("/periods/:key/assignments/:category", s.assignMoney)
	api.PUT("/periods/:key/carryovers/:category", s.setCarryover)
	api.GET("/periods/:key/income", s.listIncome)
	api.POST("/periods/:key/income", s.addIncome)
	api.GET("/periods/:key/balances", s.categoryBalances)
	api.GET("/periods/:key/summary", s.budgetSummary)
	api.POST("/periods/:key/recalculate-year", s.recalculateYear)

	api.GET("/goals", s.listGoals)
	api.POST("/goals", s.createGoal)
	api.GET("/goals/:key", s.getGoal)
	api.PATCH("/goals/:key", s.updateGoal)
	api.DELETE("/goals/:key", s.deleteGoal)
	api.POST("/goals/:key/contribute", s.contributeGoal)
}

type amountRequest struct {
	Amount core.Money `json:"amount"`
}

// Groups and categories

func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.budget.ListGroups(c.Request.Context(), familyOf(c))
	s.respond(c, http.StatusOK, nonNil(groups), err)
}

func (s *Server) createGroup(c *gin.Context) {
	var in budget.GroupInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	g, err := s.budget.CreateGroup(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, g, err)
}

func (s *Server) updateGroup(c *gin.Context) {
	var patch budget.GroupPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	g, err := s.budget.UpdateGroup(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, g, err)
}

func (s *Server) deleteGroup(c *gin.Context) {
	s.respondNoContent(c, s.budget.DeleteGroup(c.Request.Context(), familyOf(c), c.Param("key")))
}

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.budget.ListCategories(c.Request.Context(), familyOf(c), c.Query("group"))
	s.respond(c, http.StatusOK, nonNil(cats), err)
}

func (s *Server) createCategory(c *gin.Context) {
	var in budget.CategoryInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	cat, err := s.budget.CreateCategory(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, cat, err)
}

func (s *Server) getCategory(c *gin.Context) {
	cat, err := s.budget.GetCategory(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, cat, err)
}

func (s *Server) updateCategory(c *gin.Context) {
	var patch budget.CategoryPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	cat, err := s.budget.UpdateCategory(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, cat, err)
}

func (s *Server) deleteCategory(c *gin.Context) {
	s.respondNoContent(c, s.budget.DeleteCategory(c.Request.Context(), familyOf(c), c.Param("key")))
}

// Periods

func (s *Server) listPeriods(c *gin.Context) {
	year, err := queryInt(c, "year")
	if err != nil {
		s.writeError(c, err)
		return
	}
	periods, err := s.budget.ListPeriods(c.Request.Context(), familyOf(c), year)
	s.respond(c, http.StatusOK, nonNil(periods), err)
}

func (s *Server) createPeriod(c *gin.Context) {
	var in budget.PeriodInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.budget.CreatePeriod(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, p, err)
}

func (s *Server) getPeriod(c *gin.Context) {
	p, err := s.budget.GetPeriod(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, p, err)
}

func (s *Server) updatePeriod(c *gin.Context) {
	var patch budget.PeriodPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.budget.UpdatePeriod(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, p, err)
}

func (s *Server) deletePeriod(c *gin.Context) {
	s.respondNoContent(c, s.budget.DeletePeriod(c.Request.Context(), familyOf(c), c.Param("key")))
}

func (s *Server) assignMoney(c *gin.Context) {
	var req amountRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	a, err := s.budget.AssignMoney(c.Request.Context(), familyOf(c), c.Param("key"), c.Param("category"), req.Amount)
	s.respond(c, http.StatusOK, a, err)
}

func (s *Server) setCarryover(c *gin.Context) {
	var req amountRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	co, err := s.budget.SetCarryover(c.Request.Context(), familyOf(c), c.Param("key"), c.Param("category"), req.Amount)
	s.respond(c, http.StatusOK, co, err)
}

func (s *Server) listIncome(c *gin.Context) {
	entries, err := s.budget.ListIncome(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, nonNil(entries), err)
}

func (s *Server) addIncome(c *gin.Context) {
	var in budget.IncomeInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	e, err := s.budget.AddIncome(c.Request.Context(), familyOf(c), c.Param("key"), in)
	s.respond(c, http.StatusCreated, e, err)
}

type balancesResponse struct {
	PeriodKey string                 `json:"period_key"`
	Balances  []core.CategoryBalance `json:"balances"`
}

func (s *Server) categoryBalances(c *gin.Context) {
	family, key := familyOf(c), c.Param("key")
	cacheKey := family + "|" + key
	if rows, ok := s.balances.Get(cacheKey); ok {
		c.JSON(http.StatusOK, balancesResponse{PeriodKey: key, Balances: rows})
		return
	}
	seen := s.generations.Current(family)
	rows, err := s.budget.CategoryBalances(c.Request.Context(), family, key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rows = nonNil(rows)
	s.generations.StoreIf(family, seen, func() { s.balances.Set(cacheKey, rows) })
	c.JSON(http.StatusOK, balancesResponse{PeriodKey: key, Balances: rows})
}

func (s *Server) budgetSummary(c *gin.Context) {
	family, key := familyOf(c), c.Param("key")
	cacheKey := family + "|" + key
	if sum, ok := s.summaries.Get(cacheKey); ok {
		c.JSON(http.StatusOK, sum)
		return
	}
	seen := s.generations.Current(family)
	sum, err := s.budget.BudgetSummary(c.Request.Context(), family, key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.generations.StoreIf(family, seen, func() { s.summaries.Set(cacheKey, sum) })
	c.JSON(http.StatusOK, sum)
}

type recalculateResponse struct {
	StartPeriodKey  string `json:"start_period_key"`
	AffectedPeriods int    `json:"affected_periods"`
}

func (s *Server) recalculateYear(c *gin.Context) {
	key := c.Param("key")
	n, err := s.budget.RecalculateYear(c.Request.Context(), familyOf(c), key)
	s.respond(c, http.StatusOK, recalculateResponse{StartPeriodKey: key, AffectedPeriods: n}, err)
}

// Goals

func (s *Server) listGoals(c *gin.Context) {
	goals, err := s.budget.ListGoals(c.Request.Context(), familyOf(c))
	s.respond(c, http.StatusOK, nonNil(goals), err)
}

func (s *Server) createGoal(c *gin.Context) {
	var in budget.GoalInput
	if err := bindJSON(c, &in); err != nil {
		s.writeError(c, err)
		return
	}
	g, err := s.budget.CreateGoal(c.Request.Context(), familyOf(c), in)
	s.respond(c, http.StatusCreated, g, err)
}

func (s *Server) getGoal(c *gin.Context) {
	g, err := s.budget.GetGoal(c.Request.Context(), familyOf(c), c.Param("key"))
	s.respond(c, http.StatusOK, g, err)
}

func (s *Server) updateGoal(c *gin.Context) {
	var patch budget.GoalPatch
	if err := bindJSON(c, &patch); err != nil {
		s.writeError(c, err)
		return
	}
	g, err := s.budget.UpdateGoal(c.Request.Context(), familyOf(c), c.Param("key"), patch)
	s.respond(c, http.StatusOK, g, err)
}

func (s *Server) deleteGoal(c *gin.Context) {
	s.respondNoContent(c, s.budget.DeleteGoal(c.Request.Context(), familyOf(c), c.Param("key")))
}

func (s *Server) contributeGoal(c *gin.Context) {
	var req amountRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	g, err := s.budget.Contribute(c.Request.Context(), familyOf(c), c.Param("key"), req.Amount)
	s.respond(c, http.StatusOK, g, err)
}
