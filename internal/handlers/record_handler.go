package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"flowdesk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordHandler exposes the record store over HTTP. Every write here flows
// through the change feed, which is what event-triggered automations watch.
type RecordHandler struct {
	store  store.RecordStore
	logger *logrus.Logger
}

func NewRecordHandler(recordStore store.RecordStore, logger *logrus.Logger) *RecordHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecordHandler{store: recordStore, logger: logger}
}

// ListRecords pages through a collection, newest first.
func (h *RecordHandler) ListRecords(c *gin.Context) {
	opts := store.ListOptions{Limit: 50}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: err.Error()})
			return
		}
		opts.Limit = n
	}
	if v := c.Query("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid created_before", Message: err.Error()})
			return
		}
		opts.CreatedBefore = &t
	}
	docs, err := h.store.List(c.Request.Context(), c.Param("collection"), opts)
	if err != nil {
		h.logger.Errorf("Failed to list records: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list records", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, docs)
}

// CreateRecord stores a new document. The id may be supplied as "_id" in the
// body; otherwise one is generated.
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	var data store.Record
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	id, _ := data["_id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	delete(data, "_id")
	if err := h.store.Create(c.Request.Context(), c.Param("collection"), id, data); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create record", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "data": data})
}

// GetRecord fetches one document.
func (h *RecordHandler) GetRecord(c *gin.Context) {
	data, err := h.store.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		c.JSON(recordStatusFor(err), ErrorResponse{Error: "Failed to get record", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "data": data})
}

// UpdateRecord merges the posted fields into the document.
func (h *RecordHandler) UpdateRecord(c *gin.Context) {
	var data store.Record
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.store.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), data); err != nil {
		c.JSON(recordStatusFor(err), ErrorResponse{Error: "Failed to update record", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteRecord removes the document.
func (h *RecordHandler) DeleteRecord(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
		c.JSON(recordStatusFor(err), ErrorResponse{Error: "Failed to delete record", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

func recordStatusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// RegisterRecordRoutes mounts the record API under the given group.
func RegisterRecordRoutes(r *gin.RouterGroup, handler *RecordHandler) {
	records := r.Group("/records/:collection")
	{
		records.GET("", handler.ListRecords)
		records.POST("", handler.CreateRecord)
		records.GET(":id", handler.GetRecord)
		records.PUT(":id", handler.UpdateRecord)
		records.DELETE(":id", handler.DeleteRecord)
	}
}
