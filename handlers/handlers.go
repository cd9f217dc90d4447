package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/loiht2/payload-forge/artifact"
	"github.com/loiht2/payload-forge/controller"
	"github.com/loiht2/payload-forge/converter"
	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/metrics"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

const defaultRequestTimeout = 30 * time.Second

// TemplateRepository is the template storage used by the handlers
type TemplateRepository interface {
	Backend() string
	List(ctx context.Context) ([]models.StoredTemplate, error)
	Get(ctx context.Context, id string) (*models.StoredTemplate, error)
	Save(ctx context.Context, values models.PayloadFormValues, name, description, id string) (*models.StoredTemplate, error)
	Delete(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// ExportSink publishes exported payload files
type ExportSink interface {
	PutPayload(ctx context.Context, fileName string, body []byte) (models.ExportInfo, error)
	ListExports(ctx context.Context) ([]models.ExportInfo, error)
}

// StoreHealth reports the result of the last background store check
type StoreHealth interface {
	Healthy() bool
}

// Options configure a Handler. Searcher and Sink are optional; the endpoints that
// need them answer 503 when they are nil. Without StoreHealth, /health pings the
// store on every request.
type Options struct {
	Searcher       artifact.Searcher
	Sink           ExportSink
	StoreHealth    StoreHealth
	RequestTimeout time.Duration
}

// Handler handles HTTP requests
type Handler struct {
	repo     TemplateRepository
	sessions *controller.Sessions
	searcher artifact.Searcher
	sink     ExportSink
	health   StoreHealth
	timeout  time.Duration
}

// NewHandler creates a new handler instance
func NewHandler(repo TemplateRepository, sessions *controller.Sessions, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Handler{
		repo:     repo,
		sessions: sessions,
		searcher: opts.Searcher,
		sink:     opts.Sink,
		health:   opts.StoreHealth,
		timeout:  opts.RequestTimeout,
	}
}

// RegisterRoutes adds every endpoint to router
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/schema/defaults", h.GetDefaults)
		api.GET("/schema/clusters", h.GetClusters)

		payload := api.Group("/payload")
		{
			payload.POST("/validate", h.ValidatePayload)
			payload.POST("/preview", h.PreviewPayload)
			payload.POST("/export", h.ExportPayload)
			payload.POST("/publish", h.PublishPayload)
		}
		api.GET("/exports", h.ListExports)

		templates := api.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.POST("", h.CreateTemplate)
			templates.GET("/:id", h.GetTemplate)
			templates.PUT("/:id", h.UpdateTemplate)
			templates.DELETE("/:id", h.DeleteTemplate)
			templates.GET("/:id/payload", h.GetTemplatePayload)
		}

		api.GET("/artifacts", h.SearchArtifacts)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.OpenSession)
			sessions.GET("/:sid", h.GetSession)
			sessions.DELETE("/:sid", h.CloseSession)
			sessions.PUT("/:sid/values", h.SetSessionValues)
			sessions.PUT("/:sid/metadata", h.SetSessionMetadata)
			sessions.POST("/:sid/cluster", h.SelectSessionCluster)
			sessions.POST("/:sid/cluster/confirm", h.ConfirmSessionCluster)
			sessions.POST("/:sid/cluster/cancel", h.CancelSessionCluster)
			sessions.POST("/:sid/save", h.SaveSession)
			sessions.POST("/:sid/artifacts", h.SearchSessionArtifacts)
			sessions.POST("/:sid/artifacts/select", h.SelectSessionArtifact)
			sessions.GET("/:sid/export", h.ExportSession)
		}
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if !h.health.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"backend": h.repo.Backend(),
				"details": "last template store check failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "backend": h.repo.Backend()})
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"backend": h.repo.Backend(),
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "backend": h.repo.Backend()})
}

// GetDefaults handles GET /api/v1/schema/defaults
func (h *Handler) GetDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, schema.DefaultValues())
}

// GetClusters handles GET /api/v1/schema/clusters
func (h *Handler) GetClusters(c *gin.Context) {
	c.JSON(http.StatusOK, schema.ClusterOptions())
}

// ValidatePayload handles POST /api/v1/payload/validate
func (h *Handler) ValidatePayload(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		invalidRequest(c, err)
		return
	}
	// Fields of the wrong type are reported together with the constraint violations
	values, err := schema.Decode(raw)
	var fieldErrs forgeerrors.ValidationErrors
	if err != nil && !errors.As(err, &fieldErrs) {
		invalidRequest(c, err)
		return
	}
	valid, err := schema.Validate(values)
	var validationErrs forgeerrors.ValidationErrors
	if err != nil && !errors.As(err, &validationErrs) {
		respondError(c, "Failed to validate payload", err)
		return
	}
	for _, validationErr := range validationErrs {
		if !fieldErrs.Has(validationErr.Field) {
			fieldErrs = append(fieldErrs, validationErr)
		}
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, models.ValidationResponse{Valid: false, Errors: fieldErrors(fieldErrs)})
		return
	}
	c.JSON(http.StatusOK, models.ValidationResponse{Valid: true, Values: &valid})
}

// PreviewPayload handles POST /api/v1/payload/preview.
// The preview is best effort: values are transformed without validation.
func (h *Handler) PreviewPayload(c *gin.Context) {
	values, ok := bindValues(c)
	if !ok {
		return
	}
	renderPayload(c, converter.ToSubmissionPayload(values))
}

// ExportPayload handles POST /api/v1/payload/export
func (h *Handler) ExportPayload(c *gin.Context) {
	values, ok := bindValues(c)
	if !ok {
		return
	}
	valid, err := schema.Validate(values)
	if err != nil {
		respondError(c, "Payload is invalid", err)
		return
	}
	name, body, err := converter.Export(valid)
	if err != nil {
		respondError(c, "Failed to render payload", err)
		return
	}
	metrics.RecordExport("download")
	attachment(c, name, body)
}

// PublishPayload handles POST /api/v1/payload/publish
func (h *Handler) PublishPayload(c *gin.Context) {
	if h.sink == nil {
		respondError(c, "Export storage is not available", exportsDisabled())
		return
	}
	values, ok := bindValues(c)
	if !ok {
		return
	}
	valid, err := schema.Validate(values)
	if err != nil {
		respondError(c, "Payload is invalid", err)
		return
	}
	name, body, err := converter.Export(valid)
	if err != nil {
		respondError(c, "Failed to render payload", err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	info, err := h.sink.PutPayload(ctx, name, body)
	if err != nil {
		respondError(c, "Failed to publish payload", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// ListExports handles GET /api/v1/exports
func (h *Handler) ListExports(c *gin.Context) {
	if h.sink == nil {
		respondError(c, "Export storage is not available", exportsDisabled())
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	exports, err := h.sink.ListExports(ctx)
	if err != nil {
		respondError(c, "Failed to list exports", err)
		return
	}
	c.JSON(http.StatusOK, exports)
}

// ListTemplates handles GET /api/v1/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	templates, err := h.repo.List(ctx)
	if err != nil {
		respondError(c, "Failed to list templates", err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	h.saveTemplate(c, "")
}

// UpdateTemplate handles PUT /api/v1/templates/:id; the stored template is overwritten
func (h *Handler) UpdateTemplate(c *gin.Context) {
	h.saveTemplate(c, c.Param("id"))
}

func (h *Handler) saveTemplate(c *gin.Context, id string) {
	var req models.TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	values, ok := decodeValues(c, req.Data)
	if !ok {
		return
	}
	valid, err := schema.Validate(values)
	if err != nil {
		respondError(c, "Template data is invalid", err)
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	saved, err := h.repo.Save(ctx, valid, req.Name, req.Description, id)
	if err != nil {
		respondError(c, "Failed to save template", err)
		return
	}

	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	log.WithFields(log.Fields{"template_id": saved.ID, "name": saved.Name}).Info("Template saved")
	c.JSON(status, saved)
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handler) GetTemplate(c *gin.Context) {
	stored, ok := h.loadTemplate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stored)
}

// GetTemplatePayload handles GET /api/v1/templates/:id/payload
func (h *Handler) GetTemplatePayload(c *gin.Context) {
	stored, ok := h.loadTemplate(c)
	if !ok {
		return
	}
	renderPayload(c, converter.ToSubmissionPayload(stored.Data))
}

func (h *Handler) loadTemplate(c *gin.Context) (*models.StoredTemplate, bool) {
	id := c.Param("id")
	ctx, cancel := h.context(c)
	defer cancel()

	stored, err := h.repo.Get(ctx, id)
	if err != nil {
		respondError(c, "Failed to load template", err)
		return nil, false
	}
	if stored == nil {
		respondError(c, "Template not found", &forgeerrors.NotFoundError{Type: "template", Value: id})
		return nil, false
	}
	return stored, true
}

// DeleteTemplate handles DELETE /api/v1/templates/:id?confirm=<id>
func (h *Handler) DeleteTemplate(c *gin.Context) {
	id := c.Param("id")
	if c.Query("confirm") != id {
		respondError(c, "Deletion not confirmed", &forgeerrors.ConfirmationError{Action: "deleting template " + id, Expected: id})
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()
	deleted, err := h.repo.Delete(ctx, id)
	if err != nil {
		respondError(c, "Failed to delete template", err)
		return
	}
	if !deleted {
		respondError(c, "Template not found", &forgeerrors.NotFoundError{Type: "template", Value: id})
		return
	}
	log.WithField("template_id", id).Info("Template deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted successfully"})
}

// SearchArtifacts handles GET /api/v1/artifacts?version=
func (h *Handler) SearchArtifacts(c *gin.Context) {
	if h.searcher == nil {
		respondError(c, "Artifact search is not available", searchDisabled())
		return
	}
	version := strings.TrimSpace(c.Query("version"))
	ctx, cancel := h.context(c)
	defer cancel()

	urls, err := h.searcher.Search(ctx, version)
	if err != nil {
		respondError(c, "Artifact search failed", err)
		return
	}
	c.JSON(http.StatusOK, models.ArtifactSearchResponse{Version: version, URLs: urls})
}

func (h *Handler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// bindValues decodes form values from the request body; omitted fields take their defaults
func bindValues(c *gin.Context) (models.PayloadFormValues, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		invalidRequest(c, err)
		return models.PayloadFormValues{}, false
	}
	return decodeValues(c, raw)
}

// decodeValues answers 422 naming the fields whose JSON type is wrong, and 400 when
// the body is not a JSON object
func decodeValues(c *gin.Context, data []byte) (models.PayloadFormValues, bool) {
	values, err := schema.Decode(data)
	var fieldErrs forgeerrors.ValidationErrors
	if errors.As(err, &fieldErrs) {
		respondError(c, "Payload values are invalid", err)
		return models.PayloadFormValues{}, false
	}
	if err != nil {
		invalidRequest(c, err)
		return models.PayloadFormValues{}, false
	}
	return values, true
}

// renderPayload writes payload as JSON, or YAML with ?format=yaml
func renderPayload(c *gin.Context, payload models.SubmissionPayload) {
	switch converter.Format(c.DefaultQuery("format", string(converter.FormatJSON))) {
	case converter.FormatYAML:
		c.YAML(http.StatusOK, payload)
	case converter.FormatJSON:
		c.JSON(http.StatusOK, payload)
	default:
		respondError(c, "Unsupported format", &forgeerrors.InvalidArgumentError{Name: "format", Value: c.Query("format"), Message: "format must be json or yaml"})
	}
}

func attachment(c *gin.Context, name string, body []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/json", body)
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request payload",
		"details": err.Error(),
	})
}

// respondError writes err with the status its type maps to
func respondError(c *gin.Context, message string, err error) {
	status := forgeerrors.HTTPStatus(err)
	if errors.Is(err, controller.ErrSearchSuperseded) {
		status = http.StatusConflict
	}
	body := gin.H{"error": message, "details": err.Error()}
	var validationErrs forgeerrors.ValidationErrors
	if errors.As(err, &validationErrs) {
		body["fields"] = fieldErrors(validationErrs)
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error(message)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func fieldErrors(errs forgeerrors.ValidationErrors) []models.FieldError {
	fields := make([]models.FieldError, 0, len(errs))
	for _, err := range errs {
		fields = append(fields, models.FieldError{Field: err.Field, Reason: err.Reason})
	}
	return fields
}

func searchDisabled() error {
	return &forgeerrors.ConfigurationError{Integration: "artifact-search", Message: "artifact search is disabled"}
}

func exportsDisabled() error {
	return &forgeerrors.ConfigurationError{Integration: "minio", Message: "export publishing is disabled"}
}
