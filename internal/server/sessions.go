package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/farid/autostrike/internal/models"
	"github.com/farid/autostrike/internal/session"
)

// createRequest is the body for POST /scans. Type is either a session mode
// (unattended/attended/reasoning) or a preset name; a preset also supplies
// the iteration default.
type createRequest struct {
	Name       string `json:"name" binding:"required"`
	ProjectID  string `json:"project_id"`
	LaunchedBy string `json:"launched_by"`
	Type       string `json:"type" binding:"required"`
	Iterations int    `json:"iterations"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	mode := models.SessionMode(req.Type)
	iterations := req.Iterations
	systemPrompt := ""
	if !mode.Valid() {
		preset, err := session.GetPreset(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be a session mode or preset name"})
			return
		}
		mode = preset.Mode
		systemPrompt = preset.SystemPrompt
		if iterations <= 0 {
			iterations = preset.Iterations
		}
	}

	sess, err := s.registry.Create(req.Name, req.ProjectID, req.LaunchedBy, mode, iterations, systemPrompt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "session": sess})
}

// startRequest is the body for POST /scans/:id/start.
type startRequest struct {
	Target string `json:"target" binding:"required"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := s.registry.Start(c.Param("id"), req.Target); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": models.StatusRunning})
}

// getSession returns the full session snapshot. Live sessions answer from
// the state machine; finished sessions from prior runs answer from storage.
func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")

	if m, err := s.registry.Get(id); err == nil {
		c.JSON(http.StatusOK, m.Snapshot())
		return
	}

	sess, err := s.store.GetSession(id)
	if err != nil {
		fail(c, err)
		return
	}
	if sess == nil {
		fail(c, session.ErrSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Query("project_id"))
	if err != nil {
		fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.ScanSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// pollSession is the level-triggered status query: whatever intermediate
// states a client missed, the answer always reflects the latest pending or
// terminal state of the current round.
func (s *Server) pollSession(c *gin.Context) {
	m, err := s.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m.Poll())
}

// respondRequest is the body for POST /scans/:id/respond. Response "o"
// approves the proposed command; "n" rejects it and runs UserCommand
// instead.
type respondRequest struct {
	Response    string `json:"response" binding:"required"`
	UserCommand string `json:"user_command"`
}

func (s *Server) respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Response != "o" && req.Response != "n" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `response must be "o" (approve) or "n" (override)`})
		return
	}

	m, err := s.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := m.SubmitApproval(req.Response == "o", req.UserCommand); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// addCommandRequest is the body for POST /scans/:id/commands, bridging a
// command executed outside this process into the transcript.
type addCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) addCommand(c *gin.Context) {
	var req addCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	m, err := s.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	idx, err := m.RecordExternalCommand(req.Command)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"index": idx})
}

// fillCommandRequest is the body for PUT /scans/:id/commands/:index,
// supplying the outcome of a previously bridged command.
type fillCommandRequest struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) fillCommand(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}

	var req fillCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	m, err := s.registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := m.CompleteExternalCommand(idx, req.Output, req.ExitCode); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filled": true})
}

// getReport serves the assembled report artifact for a finished session.
func (s *Server) getReport(c *gin.Context) {
	id := c.Param("id")

	var ref string
	if m, err := s.registry.Get(id); err == nil {
		ref = m.Snapshot().ReportRef
	} else {
		sess, err := s.store.GetSession(id)
		if err != nil {
			fail(c, err)
			return
		}
		if sess == nil {
			fail(c, session.ErrSessionNotFound)
			return
		}
		ref = sess.ReportRef
	}

	if ref == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report available for this session"})
		return
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		fail(c, errors.New("report artifact is missing"))
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}
