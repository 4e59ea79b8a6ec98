package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/tools"
)

// multipartSlack covers form boundaries and fields around the file part.
const multipartSlack = 1 << 20

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":                 "skylog",
		"description":          "Conversational analysis of ArduPilot DataFlash flight logs",
		"tool_catalog_version": tools.Version,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": s.store.Len(),
		"provider":        s.opts.Provider,
		"model":           s.opts.Model,
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, s.flights.CreateSession())
}

func (s *Server) handleUpload(c *gin.Context) {
	if s.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+multipartSlack)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, domain.ErrLogTooLarge)
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	name := filepath.Base(fh.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".bin") {
		badRequest(c, "only .bin DataFlash logs are supported")
		return
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return
	}
	defer f.Close()

	res, err := s.flights.Upload(c.Request.Context(), strings.TrimSpace(c.PostForm("session_id")), name, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		badRequest(c, "session_id and message are required")
		return
	}

	res, err := s.agent.Chat(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSessionInfo(c *gin.Context) {
	info, err := s.flights.Info(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	history, err := s.flights.History(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": history})
}

func (s *Server) handleReset(c *gin.Context) {
	id := c.Param("id")
	if err := s.flights.Reset(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "reset"})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := s.flights.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "deleted"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedLog), errors.Is(err, domain.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoDataset):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLogTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrDecodeTimeout), errors.Is(err, domain.ErrModelTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
