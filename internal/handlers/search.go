package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
)

// searchRequest is the wire shape of a search filter. The organization is
// never part of it; the caller's identity pins the tenant.
type searchRequest struct {
	ChainKey        string           `json:"chain_key"`
	Actors          []string         `json:"actors"`
	Actions         []audit.Action   `json:"actions"`
	Categories      []audit.Category `json:"categories"`
	Severities      []audit.Severity `json:"severities"`
	ResourceTypes   []string         `json:"resource_types"`
	ResourceIDs     []string         `json:"resource_ids"`
	OccurredFrom    time.Time        `json:"occurred_from"`
	OccurredTo      time.Time        `json:"occurred_to"`
	FlagsAny        []string         `json:"flags_any"`
	FlagsAll        []string         `json:"flags_all"`
	RiskMin         *int             `json:"risk_min"`
	RiskMax         *int             `json:"risk_max"`
	Text            string           `json:"text"`
	IncludeArchived bool             `json:"include_archived"`
	Offset          int              `json:"offset"`
	Limit           int              `json:"limit"`
	Sort            audit.SortField  `json:"sort"`
	Order           audit.SortOrder  `json:"order"`
}

func (r *searchRequest) toQuery(orgID string) *audit.Query {
	return &audit.Query{
		OrganizationID:  orgID,
		ChainKey:        r.ChainKey,
		Actors:          r.Actors,
		Actions:         r.Actions,
		Categories:      r.Categories,
		Severities:      r.Severities,
		ResourceTypes:   r.ResourceTypes,
		ResourceIDs:     r.ResourceIDs,
		OccurredFrom:    r.OccurredFrom,
		OccurredTo:      r.OccurredTo,
		FlagsAny:        r.FlagsAny,
		FlagsAll:        r.FlagsAll,
		RiskMin:         r.RiskMin,
		RiskMax:         r.RiskMax,
		Text:            r.Text,
		IncludeArchived: r.IncludeArchived,
		Offset:          r.Offset,
		Limit:           r.Limit,
		Sort:            r.Sort,
		Order:           r.Order,
	}
}

// SearchHandler runs filtered queries over the caller's trail.
type SearchHandler struct {
	service *audit.Service
}

func NewSearchHandler(service *audit.Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// Search returns one page of records matching the filter.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)
	actor := middleware.GetActorContext(c)

	if actor.OrganizationID == "" {
		return middleware.Unauthorized(c, "organization identity required")
	}

	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("Failed to parse search filter", logger.Error(err))
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	page, err := h.service.Search(c.UserContext(), actor.OrganizationID, req.toQuery(actor.OrganizationID))
	if err != nil {
		log.Warn("Search failed",
			logger.String("org_id", actor.OrganizationID),
			logger.Error(err))
		return middleware.DomainError(c, err)
	}

	log.Debug("Search completed",
		logger.String("org_id", actor.OrganizationID),
		logger.Int("returned", len(page.Records)),
		logger.Int64("total", page.Total))
	return c.JSON(page)
}
