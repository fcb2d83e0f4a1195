package immunization

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ehr/internal/platform/auth"
	"github.com/ehr/ehr/internal/platform/fhir"
)

// Handler serves C7's HTTP surface (spec.md §6): the synchronous
// Immunization CRUD endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(group *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")
	group.POST("/Immunization", h.Create, role)
	group.GET("/Immunization/:id", h.Read, role)
	group.PUT("/Immunization/:id", h.Update, role)
	group.DELETE("/Immunization/:id", h.Delete, role)
	group.GET("/Immunization", h.Search, role)
}

func (h *Handler) Create(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	rec, err := h.svc.Create(c.Request().Context(), body)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("Location", "Immunization/"+rec.ID.String())
	c.Response().Header().Set("E-Tag", versionETag(rec.Version))
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) Read(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid id"))
	}
	rec, err := h.svc.Read(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("E-Tag", versionETag(rec.Version))
	return c.JSONBlob(http.StatusOK, rec.Resource)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid id"))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}

	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ID != "" && envelope.ID != id.String() {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("path id does not match resource id "+envelope.ID))
	}

	rec, err := h.svc.Update(c.Request().Context(), id, body)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("E-Tag", versionETag(rec.Version))
	return c.JSONBlob(http.StatusOK, rec.Resource)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid id"))
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Search(c echo.Context) error {
	nhsNumber := c.QueryParam("patient.identifier")
	diseaseType := c.QueryParam("-disease-type")
	dateFrom, err := parseSearchDate(c.QueryParam("-date.start"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid -date.start"))
	}
	dateTo, err := parseSearchDate(c.QueryParam("-date.end"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid -date.end"))
	}

	records, err := h.svc.Search(c.Request().Context(), nhsNumber, diseaseType, dateFrom, dateTo)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}

	patientFullURL := fhir.FormatReference("Patient", nhsNumber)
	resources := make([]interface{}, 0, len(records))
	for _, rec := range records {
		filtered, err := FilteredResource(rec, patientFullURL)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
		resources = append(resources, filtered)
	}

	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, len(resources), "Immunization"))
}

func writeError(c echo.Context, err error) error {
	var badReq *ErrBadRequest
	var mismatch *ErrIdentifierMismatch
	var duplicate *ErrIdentifierDuplicate
	switch {
	case errors.As(err, &badReq):
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	case errors.As(err, &mismatch):
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	case errors.As(err, &duplicate):
		return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("Immunization", c.Param("id")))
	default:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}

func versionETag(version int) string {
	return strconv.Itoa(version)
}

func parseSearchDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
