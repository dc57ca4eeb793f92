package pipeline

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/httpclient"
	"github.com/datarill/datarill/logger"
)

// TriggerRequest is the body of POST /trigger. Either Data or DataLocation
// must be set; when only DataLocation is given the payload is fetched from
// that URL before the trigger event is published.
type TriggerRequest struct {
	DatasourceID string `json:"datasourceId" binding:"required"`
	Data         any    `json:"data"`
	DataLocation string `json:"dataLocation"`
}

// Handler exposes the trigger intake endpoint.
type Handler struct {
	publisher eventbus.Publisher
	fetcher   *httpclient.Client
	log       *logger.Logger
}

// NewHandler wires a Handler. fetcher resolves dataLocation URLs.
func NewHandler(publisher eventbus.Publisher, fetcher *httpclient.Client) *Handler {
	return &Handler{
		publisher: publisher,
		fetcher:   fetcher,
		log:       logger.WithComponent("trigger-handler"),
	}
}

// RegisterRoutes mounts the handler on a gin router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/trigger", h.Trigger)
}

// Trigger accepts a trigger request, publishes the corresponding datasource
// event, and acknowledges immediately. Execution failures surface only as
// pipeline.execution.error events, never to the HTTP caller.
func (h *Handler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid trigger request: %v", err)
		return
	}

	data := req.Data
	if data == nil {
		if req.DataLocation == "" {
			c.String(http.StatusBadRequest, "trigger request needs data or dataLocation")
			return
		}
		fetched, err := h.fetchData(c.Request.Context(), req.DataLocation)
		if err != nil {
			h.log.Warn("Data location fetch failed", map[string]interface{}{
				"location": req.DataLocation,
				"error":    err.Error(),
			})
			c.String(http.StatusBadRequest, "could not fetch data from %s", req.DataLocation)
			return
		}
		data = fetched
	}

	event := events.DatasourceEvent{DatasourceID: req.DatasourceID, Data: data}
	if err := h.publisher.Publish(c.Request.Context(), events.Exchange,
		events.TopicDatasourceExecutionSuccess, event); err != nil {
		h.log.Error("Trigger event publish failed", map[string]interface{}{
			logger.FieldDatasource: req.DatasourceID,
			logger.FieldError:      err.Error(),
		})
		c.String(http.StatusInternalServerError, "trigger could not be queued")
		return
	}

	c.String(http.StatusOK, "triggering pipelines for datasource %s", req.DatasourceID)
}

func (h *Handler) fetchData(ctx context.Context, location string) (any, error) {
	var data any
	if err := h.fetcher.GetJSON(ctx, location, &data); err != nil {
		return nil, apperrors.ExternalServiceError("datasource", err)
	}
	return data, nil
}
