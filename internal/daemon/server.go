package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"facet/internal/api"
	"facet/internal/config"
	"facet/internal/logging"
	"facet/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	service *api.Service

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, svc *api.Service, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logger,
		daemon:  d,
		service: svc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)

	mux.HandleFunc("GET /api/products", srv.handleListProducts)
	mux.HandleFunc("POST /api/products", srv.handleCreateProduct)
	mux.HandleFunc("GET /api/products/{id}", srv.handleProductDetail)
	mux.HandleFunc("PUT /api/products/{id}", srv.handleUpdateProduct)
	mux.HandleFunc("POST /api/products/{id}/finalize", srv.handleFinalizeProduct)

	mux.HandleFunc("GET /api/attributes", srv.handleListAttributes)
	mux.HandleFunc("POST /api/attributes", srv.handleCreateAttribute)
	mux.HandleFunc("POST /api/mappings", srv.handleCreateMapping)

	mux.HandleFunc("GET /api/providers", srv.handleListProviders)
	mux.HandleFunc("POST /api/providers", srv.handleCreateProvider)
	mux.HandleFunc("PUT /api/providers/{id}", srv.handleUpdateProvider)

	mux.HandleFunc("GET /api/annotators", srv.handleListAnnotators)
	mux.HandleFunc("POST /api/annotators", srv.handleCreateAnnotator)
	mux.HandleFunc("GET /api/annotators/stats", srv.handleAnnotatorStats)

	mux.HandleFunc("GET /api/batches", srv.handleListBatches)
	mux.HandleFunc("POST /api/batches", srv.handleCreateBatch)
	mux.HandleFunc("POST /api/batches/auto-assign", srv.handleAutoAssign)
	mux.HandleFunc("GET /api/batches/{id}", srv.handleBatchDetail)
	mux.HandleFunc("POST /api/batches/{id}/assign", srv.handleAssignBatch)
	mux.HandleFunc("POST /api/batches/{id}/approve", srv.handleApproveBatch)
	mux.HandleFunc("POST /api/batches/{id}/reject", srv.handleRejectBatch)
	mux.HandleFunc("POST /api/batches/{id}/finalize", srv.handleFinalizeBatch)

	mux.HandleFunc("POST /api/items/{id}/start", srv.handleStartItem)
	mux.HandleFunc("POST /api/items/{id}/complete", srv.handleCompleteItem)
	mux.HandleFunc("POST /api/annotations", srv.handleSubmitAnnotation)

	mux.HandleFunc("GET /api/overlaps", srv.handleListOverlaps)
	mux.HandleFunc("POST /api/overlaps/{id}/resolve", srv.handleResolveOverlap)

	mux.HandleFunc("GET /api/flags", srv.handleListFlags)
	mux.HandleFunc("POST /api/flags", srv.handleCreateFlag)
	mux.HandleFunc("POST /api/flags/{id}/review", srv.handleReviewFlag)

	mux.HandleFunc("POST /api/finalize", srv.handleFinalizeAll)

	mux.HandleFunc("GET /api/processing", srv.handleProcessingStatus)
	mux.HandleFunc("POST /api/processing/pause", srv.handlePauseProcessing)
	mux.HandleFunc("POST /api/processing/resume", srv.handleResumeProcessing)

	mux.HandleFunc("GET /api/dashboard", srv.handleDashboard)
	mux.HandleFunc("POST /api/shutdown", srv.handleShutdown)
	mux.HandleFunc("GET /api/export", srv.handleExport)
	mux.HandleFunc("POST /api/seed", srv.handleSeed)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.Products(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

func (s *apiServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var input api.ProductInput
	if !s.decode(w, r, &input) {
		return
	}
	product, err := s.service.CreateProduct(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, product)
}

func (s *apiServer) handleProductDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	detail, err := s.service.ProductDetail(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var input api.ProductInput
	if !s.decode(w, r, &input) {
		return
	}
	product, err := s.service.UpdateProduct(r.Context(), id, input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

func (s *apiServer) handleFinalizeProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		DecidedBy *int64 `json:"decided_by"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	finals, err := s.service.FinalizeProduct(r.Context(), id, body.DecidedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, finals)
}

func (s *apiServer) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	attributes, err := s.service.Attributes(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, attributes)
}

func (s *apiServer) handleCreateAttribute(w http.ResponseWriter, r *http.Request) {
	var input api.AttributeInput
	if !s.decode(w, r, &input) {
		return
	}
	attribute, err := s.service.CreateAttribute(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attribute)
}

func (s *apiServer) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category    string `json:"category"`
		Subcategory string `json:"subcategory"`
		AttributeID int64  `json:"attribute_id"`
		IsRequired  bool   `json:"is_required"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	mapping, err := s.service.CreateMapping(r.Context(), body.Category, body.Subcategory, body.AttributeID, body.IsRequired)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, mapping)
}

func (s *apiServer) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.service.Providers(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, providers)
}

func (s *apiServer) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var input api.ProviderInput
	if !s.decode(w, r, &input) {
		return
	}
	provider, err := s.service.CreateProvider(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, provider)
}

func (s *apiServer) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var input api.ProviderInput
	if !s.decode(w, r, &input) {
		return
	}
	provider, err := s.service.UpdateProvider(r.Context(), id, input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, provider)
}

func (s *apiServer) handleListAnnotators(w http.ResponseWriter, r *http.Request) {
	annotators, err := s.service.Annotators(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, annotators)
}

func (s *apiServer) handleAnnotatorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.AnnotatorStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleCreateAnnotator(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	annotator, err := s.service.CreateAnnotator(r.Context(), body.Name, body.Role)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, annotator)
}

func (s *apiServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.Batches(r.Context(), strings.TrimSpace(r.URL.Query().Get("type")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BatchType  string `json:"batch_type"`
		Size       int    `json:"size"`
		AssignedTo *int64 `json:"assigned_to"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	var (
		batch *api.Batch
		err   error
	)
	switch body.BatchType {
	case "ai", "":
		batch, err = s.service.CreateAIBatch(r.Context(), body.Size)
	case "human":
		batch, err = s.service.CreateHumanBatch(r.Context(), body.Size, body.AssignedTo)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown batch type %q", body.BatchType))
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if batch == nil {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, batch)
}

func (s *apiServer) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size    int `json:"size"`
		Overlap int `json:"overlap"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	batches, err := s.service.AutoAssign(r.Context(), body.Size, body.Overlap)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *apiServer) handleBatchDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	detail, err := s.service.Batch(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleAssignBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		AnnotatorIDs []int64 `json:"annotator_ids"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	batches, err := s.service.AssignBatch(r.Context(), id, body.AnnotatorIDs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *apiServer) handleApproveBatch(w http.ResponseWriter, r *http.Request) {
	s.reviewBatch(w, r, s.service.ApproveBatch)
}

func (s *apiServer) handleRejectBatch(w http.ResponseWriter, r *http.Request) {
	s.reviewBatch(w, r, s.service.RejectBatch)
}

func (s *apiServer) reviewBatch(w http.ResponseWriter, r *http.Request, review func(context.Context, int64) (int, error)) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	count, err := review(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"products": count})
}

func (s *apiServer) handleFinalizeBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		DecidedBy *int64 `json:"decided_by"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	report, err := s.service.FinalizeBatch(r.Context(), id, body.DecidedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleStartItem(w http.ResponseWriter, r *http.Request) {
	s.updateItem(w, r, s.service.StartItem)
}

func (s *apiServer) handleCompleteItem(w http.ResponseWriter, r *http.Request) {
	s.updateItem(w, r, s.service.CompleteItem)
}

func (s *apiServer) updateItem(w http.ResponseWriter, r *http.Request, update func(context.Context, int64, *int64) (api.BatchItem, error)) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		AnnotatorID *int64 `json:"annotator_id"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	item, err := update(r.Context(), id, body.AnnotatorID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleSubmitAnnotation(w http.ResponseWriter, r *http.Request) {
	var input api.AnnotationInput
	if !s.decode(w, r, &input) {
		return
	}
	annotation, err := s.service.SubmitAnnotation(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, annotation)
}

func (s *apiServer) handleListOverlaps(w http.ResponseWriter, r *http.Request) {
	overlaps, err := s.service.UnresolvedOverlaps(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overlaps)
}

func (s *apiServer) handleResolveOverlap(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Value      string `json:"value"`
		ResolvedBy *int64 `json:"resolved_by"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	overlap, err := s.service.ResolveOverlap(r.Context(), id, body.Value, body.ResolvedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overlap)
}

func (s *apiServer) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.service.PendingFlags(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flags)
}

func (s *apiServer) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var input api.FlagInput
	if !s.decode(w, r, &input) {
		return
	}
	flag, err := s.service.RequestMissingValue(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, flag)
}

func (s *apiServer) handleReviewFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Approve    bool   `json:"approve"`
		ReviewedBy *int64 `json:"reviewed_by"`
		Note       string `json:"note"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	flag, err := s.service.ReviewFlag(r.Context(), id, body.Approve, body.ReviewedBy, body.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flag)
}

func (s *apiServer) handleFinalizeAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DecidedBy *int64 `json:"decided_by"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	report, err := s.service.FinalizeAllReviewed(r.Context(), body.DecidedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.ProcessingStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handlePauseProcessing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PausedBy *int64 `json:"paused_by"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	status, err := s.service.PauseProcessing(r.Context(), body.PausedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleResumeProcessing(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.ResumeProcessing(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.DashboardStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var productIDs []int64
	for _, raw := range query["product_id"] {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid product id %q", raw))
			return
		}
		productIDs = append(productIDs, id)
	}
	records, err := s.service.ExportFinals(r.Context(), productIDs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if strings.EqualFold(query.Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if err := api.WriteExportCSV(w, records); err != nil {
			s.log().Error("failed to write csv export", logging.Error(err))
		}
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *apiServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"stopping": true})
	s.daemon.RequestShutdown()
}

func (s *apiServer) handleSeed(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.SeedSampleData(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body for endpoints whose parameters all
// have defaults.
func (s *apiServer) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	return false
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), map[string]string{
		"error": err.Error(),
		"kind":  services.Kind(err),
	})
}

func statusForError(err error) int {
	switch services.Kind(err) {
	case "validation_failed":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "invalid_transition", "conflict":
		return http.StatusConflict
	case "incomplete_annotations":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
