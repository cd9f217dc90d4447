// Package controller hosts configurator sessions: the form state of one template being
// created, edited or used, with its live preview, debounced metadata auto-save,
// production-cluster confirmation gate and artifact lookups.
package controller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/loiht2/payload-forge/artifact"
	"github.com/loiht2/payload-forge/converter"
	"github.com/loiht2/payload-forge/debounce"
	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/metrics"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

// Mode says what a session may do with its template
type Mode string

const (
	// ModeCreate edits a configuration not yet saved
	ModeCreate Mode = "create"
	// ModeEdit edits a stored template; saves overwrite it
	ModeEdit Mode = "edit"
	// ModeUse starts from a stored template without ever writing it back
	ModeUse Mode = "use"
)

// UntitledTemplateName is the name given to new configurations
const UntitledTemplateName = "Untitled Payload Template"

const (
	DefaultAutoSaveDelay = 1500 * time.Millisecond
	autoSaveTimeout      = 10 * time.Second
	maxNotifications     = 50
)

// ErrSearchSuperseded is returned by SearchArtifacts when a newer search started before it finished.
// Its results are discarded.
var ErrSearchSuperseded = errors.New("artifact search superseded by a newer search")

// TemplateRepository is the part of the repository a session needs
type TemplateRepository interface {
	Get(ctx context.Context, id string) (*models.StoredTemplate, error)
	Save(ctx context.Context, values models.PayloadFormValues, name, description, id string) (*models.StoredTemplate, error)
}

// Options configure a Controller
type Options struct {
	// Quiet period before name/description edits are saved
	AutoSaveDelay time.Duration
	Clock         clock.Clock
	// Artifact search backend; nil disables searches
	Searcher artifact.Searcher
}

func (o Options) withDefaults() Options {
	if o.AutoSaveDelay <= 0 {
		o.AutoSaveDelay = DefaultAutoSaveDelay
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// PendingCluster is a production cluster selection awaiting typed confirmation
type PendingCluster struct {
	Cluster  string `json:"cluster"`
	Previous string `json:"previous"`
}

// Controller holds the state of one configurator session.
// All methods are safe for concurrent use.
type Controller struct {
	id       string
	repo     TemplateRepository
	searcher artifact.Searcher
	clock    clock.Clock
	autosave *debounce.Debouncer

	mu              sync.Mutex
	mode            Mode
	templateID      string
	name            string
	description     string
	values          models.PayloadFormValues
	stored          *models.StoredTemplate
	pendingCluster  *PendingCluster
	artifactVersion string
	artifacts       []string
	searchSeq       uint64
	cancelSearch    context.CancelFunc
	notifications   []Notification
	lastActivity    time.Time
	closed          bool
}

// New creates a controller for an unsaved configuration; call Load to open a template
func New(id string, repo TemplateRepository, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		id:           id,
		repo:         repo,
		searcher:     opts.Searcher,
		clock:        opts.Clock,
		mode:         ModeCreate,
		name:         UntitledTemplateName,
		values:       schema.DefaultValues(),
		lastActivity: opts.Clock.Now(),
	}
	c.autosave = debounce.New(opts.Clock, opts.AutoSaveDelay, c.autoSave)
	return c
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.id
}

// Load resets the session to the given template and mode. An empty templateID, or
// ModeCreate, starts a new configuration from defaults. A template that does not
// exist also starts a new configuration, with a "Template not found" notification.
func (c *Controller) Load(ctx context.Context, templateID string, mode Mode) error {
	switch mode {
	case "":
		mode = ModeCreate
		if templateID != "" {
			mode = ModeEdit
		}
	case ModeCreate, ModeEdit, ModeUse:
	default:
		return &forgeerrors.InvalidArgumentError{Name: "mode", Value: mode, Message: "mode must be create, edit or use"}
	}

	var stored *models.StoredTemplate
	if mode != ModeCreate && templateID != "" {
		var err error
		stored, err = c.repo.Get(ctx, templateID)
		if err != nil {
			c.notifyError("Load Failed", "Could not load the template from the database.")
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	c.pendingCluster = nil
	c.artifacts = nil
	c.artifactVersion = ""

	if stored == nil {
		if mode != ModeCreate && templateID != "" {
			log.WithFields(log.Fields{"session_id": c.id, "template_id": templateID}).Warn("Template not found; starting a new configuration")
			c.addNotification(LevelError, "Template not found", "Starting a new configuration instead.")
		}
		c.mode = ModeCreate
		c.templateID = ""
		c.stored = nil
		c.name = UntitledTemplateName
		c.description = ""
		c.values = schema.DefaultValues()
		return nil
	}

	c.mode = mode
	c.templateID = stored.ID
	c.stored = stored
	c.name = stored.Name
	c.description = stored.Description
	c.values = stored.Data.Clone()
	return nil
}

// Mode returns the session's current mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Values returns a copy of the current form values
func (c *Controller) Values() models.PayloadFormValues {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

// SetValues replaces the form values. A change of cluster to a production cluster is
// not applied; it becomes pending until ConfirmCluster or CancelCluster, and
// SetValues reports true.
func (c *Controller) SetValues(values models.PayloadFormValues) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	values = values.Clone()
	current := c.values.EMRCluster
	if values.EMRCluster != current && schema.IsProductionCluster(values.EMRCluster) {
		c.pendingCluster = &PendingCluster{Cluster: values.EMRCluster, Previous: current}
		values.EMRCluster = current
		c.values = values
		return true
	}
	if values.EMRCluster != current {
		c.pendingCluster = nil
	}
	c.values = values
	return false
}

// SelectCluster changes the EMR cluster. Production clusters need ConfirmCluster
// before they take effect, in which case SelectCluster reports true.
func (c *Controller) SelectCluster(cluster string) (bool, error) {
	if !schema.IsKnownCluster(cluster) {
		return false, &forgeerrors.InvalidArgumentError{Name: "emr_cluster", Value: cluster, Message: "unknown cluster"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if schema.IsProductionCluster(cluster) && cluster != c.values.EMRCluster {
		c.pendingCluster = &PendingCluster{Cluster: cluster, Previous: c.values.EMRCluster}
		return true, nil
	}
	c.pendingCluster = nil
	c.values.EMRCluster = cluster
	return false, nil
}

// ConfirmCluster applies the pending production cluster if confirmation is exactly "PROD".
// Otherwise the selection stays pending and a ConfirmationError is returned.
func (c *Controller) ConfirmCluster(confirmation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.pendingCluster == nil {
		return &forgeerrors.InvalidArgumentError{Name: "emr_cluster", Message: "no cluster selection is awaiting confirmation"}
	}
	if confirmation != schema.ProductionConfirmation {
		c.addNotification(LevelError, "Incorrect Confirmation", "Please type 'PROD' to confirm selection of this production cluster.")
		return &forgeerrors.ConfirmationError{
			Action:   "selecting production cluster " + c.pendingCluster.Cluster,
			Expected: schema.ProductionConfirmation,
		}
	}
	c.values.EMRCluster = c.pendingCluster.Cluster
	c.addNotification(LevelSuccess, "Cluster Updated", "EMR Cluster set to "+c.pendingCluster.Cluster+".")
	log.WithFields(log.Fields{"session_id": c.id, "cluster": c.pendingCluster.Cluster}).Info("Production cluster selected")
	c.pendingCluster = nil
	return nil
}

// CancelCluster drops a pending production cluster selection, keeping the previous cluster
func (c *Controller) CancelCluster() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	if c.pendingCluster == nil {
		return
	}
	c.values.EMRCluster = c.pendingCluster.Previous
	c.addNotification(LevelInfo, "Selection Cancelled", "EMR Cluster selection reverted to "+c.pendingCluster.Previous+".")
	c.pendingCluster = nil
}

// SetMetadata changes the template name and description. For sessions bound to a
// stored template the change is saved after the auto-save quiet period.
func (c *Controller) SetMetadata(name, description string) {
	c.mu.Lock()
	c.touch()
	c.name = name
	c.description = description
	schedule := c.mode != ModeUse && c.templateID != "" && !c.closed
	c.mu.Unlock()

	if schedule {
		c.autosave.Trigger()
	}
}

// autoSave runs on the debouncer goroutine once metadata edits have settled
func (c *Controller) autoSave() {
	c.mu.Lock()
	if c.mode == ModeUse || c.templateID == "" || c.stored == nil {
		c.mu.Unlock()
		metrics.RecordAutoSave(metrics.OutcomeSkipped)
		return
	}
	name := strings.TrimSpace(c.name)
	description := strings.TrimSpace(c.description)
	if name == "" || (name == strings.TrimSpace(c.stored.Name) && description == strings.TrimSpace(c.stored.Description)) {
		c.mu.Unlock()
		metrics.RecordAutoSave(metrics.OutcomeSkipped)
		return
	}
	templateID := c.templateID
	// Form values are saved along with the metadata only when they are valid;
	// otherwise the stored data is kept.
	data := c.stored.Data.Clone()
	if valid, err := schema.Validate(c.values); err == nil {
		data = valid.Clone()
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autoSaveTimeout)
	defer cancel()
	saved, err := c.repo.Save(ctx, data, name, description, templateID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		metrics.RecordAutoSave(metrics.OutcomeFailure)
		log.WithFields(log.Fields{"session_id": c.id, "template_id": templateID}).WithError(err).Error("Auto-save failed")
		c.addNotification(LevelError, "Auto-save Failed", "Could not save the template details.")
		return
	}
	metrics.RecordAutoSave(metrics.OutcomeSuccess)
	if c.templateID == templateID {
		c.stored = saved
	}
	c.addNotification(LevelSuccess, "Auto-saved!", "Template details updated.")
}

// Save validates the form values and writes them with the current name and description.
// In create mode a new template is created and the session switches to edit mode.
// Failures leave the session state untouched.
func (c *Controller) Save(ctx context.Context) (*models.StoredTemplate, error) {
	c.mu.Lock()
	c.touch()
	if c.mode == ModeUse {
		c.addNotification(LevelInfo, "Info", "Changes in 'Use' mode are not saved to the template.")
		c.mu.Unlock()
		return nil, &forgeerrors.ReadOnlyError{Resource: "template", Reason: "opened in use mode; changes are not saved"}
	}
	name := strings.TrimSpace(c.name)
	description := strings.TrimSpace(c.description)
	templateID := c.templateID
	values := c.values.Clone()
	if name == "" {
		c.addNotification(LevelError, "Error", "Template name cannot be empty.")
		c.mu.Unlock()
		return nil, &forgeerrors.InvalidArgumentError{Name: "name", Value: name, Message: "template name must not be empty"}
	}
	valid, err := schema.Validate(values)
	if err != nil {
		c.addNotification(LevelError, "Validation Failed", "Fix the highlighted fields before saving.")
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	saved, err := c.repo.Save(ctx, valid, name, description, templateID)
	if err != nil {
		c.notifyError("Save Failed", "Could not save the template to the database.")
		return nil, err
	}
	// read back so the session reflects exactly what was stored
	if reloaded, err := c.repo.Get(ctx, saved.ID); err == nil && reloaded != nil {
		saved = reloaded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	verb := "updated"
	if templateID == "" {
		verb = "created"
	}
	if c.mode == ModeCreate {
		c.mode = ModeEdit
	}
	c.templateID = saved.ID
	c.stored = saved
	c.name = saved.Name
	c.description = saved.Description
	c.values = saved.Data.Clone()
	c.addNotification(LevelSuccess, "Template Saved!", "Template \""+saved.Name+"\" has been successfully "+verb+".")
	log.WithFields(log.Fields{"session_id": c.id, "template_id": saved.ID}).Infof("Template %s", verb)

	result := saved.Clone()
	return &result, nil
}

// Preview transforms the current values without validating them
func (c *Controller) Preview() models.SubmissionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return converter.ToSubmissionPayload(c.values)
}

// Validate checks the current values against the schema
func (c *Controller) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := schema.Validate(c.values)
	return err
}

// SearchArtifacts looks up artifact URLs for version. Starting a search cancels any search
// still in flight; the cancelled call returns ErrSearchSuperseded and never touches the
// session's results.
func (c *Controller) SearchArtifacts(ctx context.Context, version string) ([]string, error) {
	if c.searcher == nil {
		return nil, &forgeerrors.ConfigurationError{Integration: "artifact-search", Message: "artifact search is disabled"}
	}
	version = strings.TrimSpace(version)

	c.mu.Lock()
	c.touch()
	if c.cancelSearch != nil {
		c.cancelSearch()
	}
	c.searchSeq++
	seq := c.searchSeq
	searchCtx, cancel := context.WithCancel(ctx)
	c.cancelSearch = cancel
	c.mu.Unlock()
	defer cancel()

	urls, err := c.searcher.Search(searchCtx, version)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.searchSeq {
		return nil, ErrSearchSuperseded
	}
	c.cancelSearch = nil
	if err != nil {
		c.addNotification(LevelError, "Artifact Search Failed", searchFailureMessage(err))
		return nil, err
	}
	c.artifactVersion = version
	c.artifacts = append([]string{}, urls...)
	if len(urls) == 0 {
		c.addNotification(LevelInfo, "No Artifacts Found", "No JAR files matched version "+version+".")
	}
	return append([]string{}, urls...), nil
}

func searchFailureMessage(err error) string {
	var configErr *forgeerrors.ConfigurationError
	var remoteErr *forgeerrors.RemoteServiceError
	var invalidErr *forgeerrors.InvalidArgumentError
	switch {
	case errors.As(err, &configErr):
		return "Artifact search is not configured: " + configErr.Message
	case errors.As(err, &invalidErr):
		return "Enter a version made of letters, digits, '.', '_' or '-'."
	case errors.As(err, &remoteErr) && remoteErr.Unreachable():
		return "Cannot reach the artifact service. Ensure VPN is connected."
	case errors.As(err, &remoteErr):
		return "The artifact service rejected the request. Check that the credentials are valid."
	default:
		return "Artifact search failed."
	}
}

// SelectArtifact uses url as the main application file
func (c *Controller) SelectArtifact(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return &forgeerrors.InvalidArgumentError{Name: "url", Value: url, Message: "artifact url must not be empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	c.values.MainApplicationFile = url
	return nil
}

// Export validates the current values and renders them as a named JSON document
func (c *Controller) Export() (string, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	valid, err := schema.Validate(c.values)
	if err != nil {
		c.addNotification(LevelError, "Download failed", "Fix the highlighted fields before exporting.")
		return "", nil, err
	}
	name, body, err := converter.Export(valid)
	if err != nil {
		return "", nil, err
	}
	metrics.RecordExport("download")
	c.addNotification(LevelSuccess, "Download started!", "Payload will be saved as "+name+".")
	return name, body, nil
}

// Notifications returns the session's notifications, oldest first
func (c *Controller) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification{}, c.notifications...)
}

// LastActivity returns when the session was last used
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Snapshot returns the full session state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		ID:              c.id,
		Mode:            c.mode,
		TemplateID:      c.templateID,
		Name:            c.name,
		Description:     c.description,
		Values:          c.values.Clone(),
		Preview:         converter.ToSubmissionPayload(c.values),
		ArtifactVersion: c.artifactVersion,
		Artifacts:       append([]string{}, c.artifacts...),
		Notifications:   append([]Notification{}, c.notifications...),
	}
	if c.pendingCluster != nil {
		pending := *c.pendingCluster
		snapshot.PendingCluster = &pending
	}
	if c.stored != nil {
		updatedAt := c.stored.UpdatedAt
		snapshot.UpdatedAt = &updatedAt
	}
	return snapshot
}

// Close saves any pending metadata change, cancels searches and stops the session's timers
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancelSearch != nil {
		c.cancelSearch()
		c.cancelSearch = nil
	}
	c.mu.Unlock()

	c.autosave.Flush()
	c.autosave.Stop()
}

// touch must be called with mu held
func (c *Controller) touch() {
	c.lastActivity = c.clock.Now()
}

func (c *Controller) notifyError(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addNotification(LevelError, title, message)
}

// addNotification must be called with mu held
func (c *Controller) addNotification(level Level, title, message string) {
	c.notifications = append(c.notifications, Notification{
		Level:   level,
		Title:   title,
		Message: message,
		Time:    c.clock.Now(),
	})
	if len(c.notifications) > maxNotifications {
		c.notifications = c.notifications[len(c.notifications)-maxNotifications:]
	}
}
