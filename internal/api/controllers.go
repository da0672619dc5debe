package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"momentum-trader/internal/engine"
	"momentum-trader/internal/order"
	"momentum-trader/pkg/db"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

type setTradingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Status(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Metrics(c.Request.Context()))
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.RiskMetrics(c.Request.Context()))
}

// setTrading flips the pre-trade kill switch.
func (s *Server) setTrading(c *gin.Context) {
	var req setTradingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "body must be {\"enabled\": bool}")
		return
	}
	s.Svc.SetTradingEnabled(c.Request.Context(), *req.Enabled)
	log.Infof("api: trading enabled=%v by %q", *req.Enabled, CurrentOperator(c))
	c.JSON(http.StatusOK, gin.H{"trading_enabled": *req.Enabled})
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.Svc.ListOrders(c.Request.Context(), c.Query("status"))
	if err != nil {
		if errors.Is(err, engine.ErrInvalidStatus) {
			respondError(c, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	p, err := s.Svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) reconcileOrder(c *gin.Context) {
	d, err := s.Svc.ReconcileOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":    c.Param("id"),
		"consistent":  d == nil,
		"discrepancy": d,
	})
}

func (s *Server) orderError(c *gin.Context, err error) {
	if errors.Is(err, order.ErrNotFound) {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

func (s *Server) getSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Summary(c.Request.Context()))
}

func (s *Server) getAnomalies(c *gin.Context) {
	unresolved, _ := strconv.ParseBool(c.DefaultQuery("unresolved", "false"))
	c.JSON(http.StatusOK, s.Svc.Anomalies(c.Request.Context(), unresolved))
}

func (s *Server) getSignals(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Signals(c.Request.Context()))
}

func (s *Server) getSubmissions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.Submissions(c.Request.Context()))
}

// getReport builds the report for the session so far without touching the
// tracker.
func (s *Server) getReport(c *gin.Context) {
	r, err := s.Svc.Report(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "REPORT_FAILED", err.Error())
		return
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, r.Text())
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) triggerCycle(c *gin.Context) {
	res, err := s.Svc.TriggerCycle(c.Request.Context())
	if err != nil {
		if errors.Is(err, engine.ErrCycleRunning) {
			respondError(c, http.StatusConflict, "CYCLE_RUNNING", err.Error())
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"code":   "CYCLE_FAILED",
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Persisted history ---

func (s *Server) requireDB(c *gin.Context) bool {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "NO_STORE", "persistence disabled")
		return false
	}
	return true
}

func (s *Server) getOrderHistory(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	status := c.Query("status")
	if status != "" && !order.Status(status).Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_STATUS", "unknown status "+strconv.Quote(status))
		return
	}
	rows, err := s.DB.Queries().ListOrders(c.Request.Context(), status, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getOrderUpdateHistory(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.DB.Queries().GetOrder(ctx, c.Param("id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	rows, err := s.DB.Queries().ListOrderUpdates(ctx, c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getSubmissionHistory(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()
	failed, _ := strconv.ParseBool(c.DefaultQuery("failed", "false"))

	rows, err := s.DB.Queries().ListSubmissions(c.Request.Context(), failed, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

// getStoredReport returns an archived report payload verbatim.
func (s *Server) getStoredReport(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	r, err := s.DB.Queries().GetReport(c.Request.Context(), c.Param("session"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "REPORT_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(r.Payload))
}
