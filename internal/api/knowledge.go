package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListFiles(c *gin.Context) {
	files, err := s.knowledge.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]fileView, len(files))
	for i := range files {
		out[i] = newFileView(&files[i])
	}
	c.JSON(http.StatusOK, gin.H{"files": out, "total": len(out)})
}

func (s *Server) handleUploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, err)
		return
	}

	file, err := s.knowledge.Upload(c.Request.Context(), currentOperator(c), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newFileView(file))
}

func (s *Server) handleDownloadFile(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	file, path, err := s.knowledge.Open(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if file.MimeType != "" {
		c.Header("Content-Type", file.MimeType)
	}
	c.FileAttachment(path, file.FilenameOriginal)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.knowledge.Delete(c.Request.Context(), currentOperator(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
