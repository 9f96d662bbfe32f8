package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/instructions"
	"github.com/zulandar/switchboard/internal/operator"
	"github.com/zulandar/switchboard/internal/stats"
)

func (s *Server) handleCurrentInstructions(c *gin.Context) {
	ins, err := instructions.Current(s.db.WithContext(c.Request.Context()))
	if err != nil {
		s.fail(c, err)
		return
	}
	if ins == nil {
		c.JSON(http.StatusOK, instructionView{Text: instructions.DefaultText, IsDefault: true})
		return
	}
	c.JSON(http.StatusOK, instructionView{ID: ins.ID, Text: ins.Text, UpdatedAt: &ins.UpdatedAt})
}

type instructionsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleUpdateInstructions(c *gin.Context) {
	var req instructionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	ins, err := instructions.Update(s.db.WithContext(c.Request.Context()), currentOperator(c), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, instructionView{ID: ins.ID, Text: ins.Text, UpdatedAt: &ins.UpdatedAt})
}

func (s *Server) handleListAdmins(c *gin.Context) {
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))
	admins, err := operator.List(s.db.WithContext(c.Request.Context()), includeInactive)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]hub.OperatorPayload, len(admins))
	for i := range admins {
		out[i] = hub.NewOperatorPayload(&admins[i])
	}
	c.JSON(http.StatusOK, gin.H{"admins": out, "total": len(out)})
}

func (s *Server) handleCreateAdmin(c *gin.Context) {
	var in operator.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	admin, err := operator.Create(s.db.WithContext(c.Request.Context()), currentOperator(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.hub.Publish(hub.ChannelOperators, hub.OperatorCreated(admin))
	c.JSON(http.StatusCreated, hub.NewOperatorPayload(admin))
}

func (s *Server) handleUpdateAdmin(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in operator.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	admin, err := operator.Update(s.db.WithContext(c.Request.Context()), currentOperator(c), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.hub.Publish(hub.ChannelOperators, hub.OperatorUpdated(admin))
	c.JSON(http.StatusOK, hub.NewOperatorPayload(admin))
}

func (s *Server) handleStatsOverview(c *gin.Context) {
	snap, err := stats.Overview(s.db.WithContext(c.Request.Context()), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
