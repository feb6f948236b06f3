package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Services struct {
	Auth       service.AuthService
	Users      service.UserService
	Courses    service.CourseService
	Assignment service.AssignmentService
	Submission service.SubmissionService
	Batch      service.BatchService
	Metrics    service.MetricsService
	Compliance service.ComplianceService
}

type Handler struct {
	authService       service.AuthService
	userService       service.UserService
	courseService     service.CourseService
	assignmentService service.AssignmentService
	submissionService service.SubmissionService
	batchService      service.BatchService
	metricsService    service.MetricsService
	complianceService service.ComplianceService

	db        Pinger
	auth      config.AuthConfig
	csrf      config.CSRFConfig
	rateLimit config.RateLimitConfig
	maxUpload int64
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewHandler(
	services Services,
	db Pinger,
	cfg *config.Config,
	logger zerolog.Logger,
) *Handler {
	maxUpload := cfg.Server.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}

	return &Handler{
		authService:       services.Auth,
		userService:       services.Users,
		courseService:     services.Courses,
		assignmentService: services.Assignment,
		submissionService: services.Submission,
		batchService:      services.Batch,
		metricsService:    services.Metrics,
		complianceService: services.Compliance,
		db:                db,
		auth:              cfg.Auth,
		csrf:              cfg.CSRF,
		rateLimit:         cfg.RateLimit,
		maxUpload:         maxUpload,
		validate:          newValidator(),
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	authenticate := mw.Authenticate(h.authService, h.auth.CookieName)
	perUser := mw.RateLimitByUser(h.rateLimit.SubmissionsPerHour, time.Hour)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(mw.RateLimitByIP(h.rateLimit.RequestsPerMinute, time.Minute))

		api.Get("/health", h.HealthCheck)
		api.Get("/ready", h.ReadyCheck)

		// Публичная часть auth
		api.Group(func(r chi.Router) {
			r.Use(mw.RateLimitByIP(h.rateLimit.AuthPerMinute, time.Minute))
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
			r.Get("/auth/csrf", h.CSRFToken)
		})

		api.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(mw.CSRF(h.csrf, h.auth.CookieName))

			r.Post("/auth/logout", h.Logout)
			r.Get("/auth/me", h.Me)
			r.Put("/auth/password", h.ChangePassword)

			r.Route("/users", func(r chi.Router) {
				r.Patch("/me", h.UpdateProfile)

				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(models.RoleAdmin))
					r.Get("/", h.ListUsers)
					r.Post("/", h.CreateUser)
					r.Get("/{id}", h.GetUser)
					r.Put("/{id}/role", h.UpdateRole)
					r.Post("/{id}/deactivate", h.DeactivateUser)
				})
			})

			r.Route("/courses", func(r chi.Router) {
				r.Get("/", h.ListCourses)
				r.With(mw.RequireRole(models.RoleInstructor, models.RoleAdmin)).Post("/", h.CreateCourse)
				r.Get("/{id}", h.GetCourse)
				r.Patch("/{id}", h.UpdateCourse)
				r.Delete("/{id}", h.DeleteCourse)

				r.Get("/{id}/enrollments", h.ListEnrollments)
				r.Post("/{id}/enrollments", h.Enroll)
				r.Post("/{id}/enrollments/batch", h.BatchEnroll)
				r.Delete("/{id}/enrollments/{student_id}", h.Unenroll)

				r.Get("/{id}/assignments", h.ListAssignments)
				r.Post("/{id}/assignments", h.CreateAssignment)

				r.Get("/{id}/dashboard", h.InstructorDashboard)
				r.Get("/{id}/progress/{student_id}", h.StudentProgress)
			})

			r.Route("/assignments/{id}", func(r chi.Router) {
				r.Get("/", h.GetAssignment)
				r.Patch("/", h.UpdateAssignment)
				r.Delete("/", h.DeleteAssignment)

				r.Get("/submissions", h.ListSubmissions)
				r.With(perUser).Post("/submissions", h.Submit)
				r.With(perUser).Post("/regrade", h.BatchRegrade)
				r.Get("/gradebook", h.ExportGradebook)
				r.Get("/stats", h.AssignmentStats)
			})

			r.Route("/submissions", func(r chi.Router) {
				r.Get("/mine", h.ListMySubmissions)
				r.Get("/{id}", h.GetSubmission)
				r.Delete("/{id}", h.DeleteSubmission)
				r.Get("/{id}/feedback", h.GetFeedback)
				r.Put("/{id}/feedback", h.OverrideFeedback)
				r.With(perUser).Post("/{id}/regrade", h.Regrade)
				r.Get("/{id}/attachment", h.AttachmentURL)
			})

			r.Route("/compliance", func(r chi.Router) {
				r.Get("/consents", h.ListConsents)
				r.Post("/consents", h.RecordConsent)
				r.Get("/requests", h.ListMyRequests)
				r.Post("/requests", h.CreateDataRequest)
				r.Post("/export", h.ExportMyData)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(mw.RequireRole(models.RoleAdmin))
				r.Get("/overview", h.AdminOverview)
				r.Get("/requests", h.ListDataRequests)
				r.Post("/requests/{id}/process", h.ProcessDataRequest)
				r.Post("/users/{id}/export", h.ExportUserData)
				r.Post("/users/{id}/anonymize", h.AnonymizeUser)
				r.Delete("/users/{id}", h.DeleteUser)
				r.Get("/audit-logs", h.ListAuditLogs)
				r.Post("/retention/purge", h.PurgeExpiredData)
			})
		})
	})
}

// Вспомогательные функции
func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func validID(w http.ResponseWriter, id, what string) bool {
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+what+" ID format")
		return false
	}
	return true
}

func pagination(r *http.Request) models.Pagination {
	return models.NewPagination(getIntQueryParam(r, "page", 1), getIntQueryParam(r, "limit", 20))
}

// decode reads a JSON body into dst and runs the validate tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeValidationError(w, fieldMessages(verrs))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   http.StatusText(http.StatusBadRequest),
		"message": "Validation failed",
		"fields":  fields,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusOK, data)
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusCreated, data)
}

func writeStatus(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, status, response)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr.Fields)
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUnprocessable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrUpstream):
		h.logger.Error().Err(err).Msg("Upstream error")
		writeError(w, http.StatusBadGateway, "Upstream service failed")
	default:
		h.logger.Error().Err(err).Msg("Service error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях используем json-имена полей
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fieldMessages(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if ns := fe.Namespace(); strings.Contains(ns, ".") {
			field = ns[strings.Index(ns, ".")+1:]
		}
		fields[field] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid":
		return "must be a UUID"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
