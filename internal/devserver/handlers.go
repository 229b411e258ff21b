package devserver

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

type sessionRequest struct {
	Name      *string `json:"name"`
	Archived  *bool   `json:"archived"`
	ProjectID *string `json:"projectId"`
}

type messageRequest struct {
	SessionID string  `json:"sessionId" binding:"required"`
	Text      string  `json:"text"`
	ImageData *string `json:"imageData"`
}

type aiRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	MessageID string `json:"messageId" binding:"required"`
}

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

func (s *Server) listSessions(c *gin.Context) {
	s.mu.Lock()
	docs := make([]*sessionDoc, 0, len(s.sessions))
	for _, d := range s.sessions {
		docs = append(docs, d)
	}
	out := sortedSessions(docs)
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) createSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	name := model.DefaultSessionPrefix
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name = strings.TrimSpace(*req.Name)
	}
	if utf8.RuneCountInString(name) > model.MaxNameLength {
		fail(c, http.StatusUnprocessableEntity, "name too long")
		return
	}

	s.mu.Lock()
	var project *string
	if req.ProjectID != nil && *req.ProjectID != "" {
		if _, ok := s.projects[*req.ProjectID]; ok {
			p := *req.ProjectID
			project = &p
		}
	}
	doc := s.newSessionLocked(name, project)
	if req.Archived != nil {
		doc.Archived = *req.Archived
	}
	out := doc.SessionRecord
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) updateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Name == nil && req.Archived == nil && req.ProjectID == nil {
		fail(c, http.StatusBadRequest, "No data to update")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.sessions[c.Param("id")]
	if !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	if req.Name != nil {
		doc.Name = strings.TrimSpace(*req.Name)
	}
	if req.Archived != nil {
		doc.Archived = *req.Archived
	}
	if req.ProjectID != nil {
		if *req.ProjectID == "" {
			doc.ProjectID = nil
		} else {
			if _, ok := s.projects[*req.ProjectID]; !ok {
				fail(c, http.StatusNotFound, "Project not found")
				return
			}
			p := *req.ProjectID
			doc.ProjectID = &p
		}
	}
	doc.UpdatedAt = s.now()
	c.JSON(http.StatusOK, doc.SessionRecord)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	delete(s.sessions, id)
	for mid, m := range s.messages {
		if m.SessionID == id {
			delete(s.messages, mid)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func (s *Server) shareSession(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.sessions[c.Param("id")]
	if !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	link := s.shareLink()
	doc.shareToken = link
	c.JSON(http.StatusOK, gin.H{"shareLink": link})
}

func (s *Server) createMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	hasImage := req.ImageData != nil && *req.ImageData != ""
	if strings.TrimSpace(req.Text) == "" && !hasImage {
		fail(c, http.StatusUnprocessableEntity, "text or imageData is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[req.SessionID]; !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	var image *string
	if hasImage {
		v := *req.ImageData
		image = &v
	}
	c.JSON(http.StatusOK, s.newMessageLocked(req.SessionID, req.Text, "user", image))
}

func (s *Server) aiResponse(c *gin.Context) {
	var req aiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	s.mu.Lock()
	_, okSession := s.sessions[req.SessionID]
	userMsg, okMsg := s.messages[req.MessageID]
	s.mu.Unlock()
	if !okSession {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	if !okMsg || userMsg.SessionID != req.SessionID {
		fail(c, http.StatusNotFound, "Message not found")
		return
	}

	if s.opts.AIDelay > 0 {
		select {
		case <-time.After(s.opts.AIDelay):
		case <-c.Request.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[req.SessionID]; !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	reply := Reply(userMsg.Text, userMsg.ImageData != nil)
	s.log.Debug("evaluation reply", zap.String("session", req.SessionID), zap.Int("chars", len(reply)))
	c.JSON(http.StatusOK, s.newMessageLocked(req.SessionID, reply, "ai", nil))
}

// Reply is the deterministic stand-in for the evaluation service.
func Reply(text string, hasImage bool) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.WriteString("**Analysis**\n\n")
	if hasImage {
		b.WriteString("- Image received for evaluation.\n")
	}
	if text != "" {
		b.WriteString("- Prompt: " + text + "\n")
	}
	b.WriteString("- Words: ")
	b.WriteString(strconv.Itoa(len(strings.Fields(text))))
	return b.String()
}

func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		fail(c, http.StatusNotFound, "Session not found")
		return
	}
	out := make([]normalize.MessageRecord, 0)
	for _, m := range s.messages {
		if m.SessionID == id {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].LegacyID < out[j].LegacyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteMessage(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		fail(c, http.StatusNotFound, "Message not found")
		return
	}
	delete(s.messages, id)
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

func (s *Server) listProjects(c *gin.Context) {
	s.mu.Lock()
	out := make([]normalize.ProjectRecord, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].LegacyID > out[j].LegacyID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt.Time)
	})
	c.JSON(http.StatusOK, out)
}

func validProject(req projectRequest) (string, bool) {
	draft := model.ProjectDraft{}
	if req.Name != nil {
		draft.Name = *req.Name
	} else {
		draft.Name = "placeholder"
	}
	if req.Description != nil {
		draft.Description = *req.Description
	}
	if req.Color != nil {
		draft.Color = *req.Color
	}
	if err := model.ValidateProjectDraft(draft); err != nil {
		return err.Error(), false
	}
	return "", true
}

func (s *Server) createProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil {
		fail(c, http.StatusUnprocessableEntity, "name is required")
		return
	}
	if detail, ok := validProject(req); !ok {
		fail(c, http.StatusUnprocessableEntity, detail)
		return
	}
	now := s.now()
	p := normalize.ProjectRecord{
		LegacyID:  s.opts.NewID(),
		UserID:    "dev",
		Name:      strings.TrimSpace(*req.Name),
		Color:     model.DefaultProjectColor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Color != nil && *req.Color != "" {
		p.Color = *req.Color
	}

	s.mu.Lock()
	s.projects[p.LegacyID] = p
	s.mu.Unlock()
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if req.Name == nil && req.Description == nil && req.Color == nil {
		fail(c, http.StatusBadRequest, "No data to update")
		return
	}
	if detail, ok := validProject(req); !ok {
		fail(c, http.StatusUnprocessableEntity, detail)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[c.Param("id")]
	if !ok {
		fail(c, http.StatusNotFound, "Project not found")
		return
	}
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Color != nil {
		p.Color = *req.Color
	}
	p.UpdatedAt = s.now()
	s.projects[p.LegacyID] = p
	c.JSON(http.StatusOK, p)
}

// deleteProject detaches the project's sessions; it never deletes them.
func (s *Server) deleteProject(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		fail(c, http.StatusNotFound, "Project not found")
		return
	}
	delete(s.projects, id)
	for _, doc := range s.sessions {
		if doc.ProjectID != nil && *doc.ProjectID == id {
			doc.ProjectID = nil
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted successfully"})
}

func (s *Server) projectSessions(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		fail(c, http.StatusNotFound, "Project not found")
		return
	}
	var docs []*sessionDoc
	for _, d := range s.sessions {
		if d.ProjectID != nil && *d.ProjectID == id {
			docs = append(docs, d)
		}
	}
	c.JSON(http.StatusOK, sortedSessions(docs))
}
