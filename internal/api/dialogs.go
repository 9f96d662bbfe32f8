package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/models"
)

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return n, true
}

func (s *Server) handleListDialogs(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	perPage, ok := queryInt(c, "per_page")
	if !ok {
		return
	}
	opts := dialog.ListOpts{
		Page:    page,
		PerPage: perPage,
		Status:  models.DialogStatus(c.Query("status")),
		Search:  c.Query("search"),
	}
	if raw := c.Query("assigned_admin_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			badRequest(c, "invalid assigned_admin_id")
			return
		}
		adminID := uint(id)
		opts.AssignedAdminID = &adminID
	}

	result, err := s.engine.List(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	now := s.engine.Now()
	items := make([]dialogView, len(result.Items))
	for i := range result.Items {
		items[i] = newDialogView(&result.Items[i].Dialog, now)
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    result.Total,
		"page":     result.Page,
		"per_page": result.PerPage,
		"has_next": result.HasNext,
	})
}

func (s *Server) handleGetDialog(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	view := dialogDetailView{
		dialogView: newDialogView(d, s.engine.Now()),
		Messages:   make([]messageView, len(d.Messages)),
	}
	for i := range d.Messages {
		view.Messages[i] = newMessageView(&d.Messages[i])
	}
	c.JSON(http.StatusOK, view)
}

type assignRequest struct {
	AdminID *uint `json:"admin_id"`
}

func (s *Server) handleAssignDialog(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := s.engine.Assign(c.Request.Context(), currentOperator(c), id, req.AdminID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDialogView(d, s.engine.Now()))
}

func (s *Server) handleSwitchAuto(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := s.engine.SwitchAuto(c.Request.Context(), currentOperator(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dialog_id": d.ID, "status": d.Status})
}

type sendRequest struct {
	DialogID uint   `json:"dialog_id" binding:"required"`
	Content  string `json:"content"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	msg, _, err := s.engine.SendOperatorMessage(c.Request.Context(), currentOperator(c), req.DialogID, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageView(msg))
}
