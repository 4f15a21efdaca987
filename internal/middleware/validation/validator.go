package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	paramsLocalsKey = "report_params"
	reasonLocalsKey = "dismiss_reason"
)

var (
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
	xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

	ErrInvalidLimit = errors.New("invalid limit")
)

type Config struct {
	MaxLimit            int
	MaxReasonLength     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ReportParams are the scope, range, and paging parameters shared by the
// report and alert listing endpoints.
type ReportParams struct {
	Scope models.Scope
	Range *models.DateRange
	Limit int
	Fresh bool
}

func withDefaults(cfg Config) Config {
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = 100
	}
	if cfg.MaxReasonLength == 0 {
		cfg.MaxReasonLength = 500
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Middleware checks request content types and parses the listing parameters
// of report and alert requests into the request locals.
func Middleware(cfg Config) fiber.Handler {
	cfg = withDefaults(cfg)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == fiber.MethodGet && isListing(c.Path()) {
			params, err := ParseReportParams(c, cfg.MaxLimit)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			c.Locals(paramsLocalsKey, params)
		}

		return c.Next()
	}
}

// DismissMiddleware validates the alert id and the optional reason of a
// dismiss request. It must be attached to the route itself: group middleware
// runs before route params are bound.
func DismissMiddleware(cfg Config) fiber.Handler {
	cfg = withDefaults(cfg)

	return func(c *fiber.Ctx) error {
		if !idPattern.MatchString(c.Params("id")) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid alert id",
			})
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
		}

		reason := sanitizeString(req.Reason)
		if len(reason) > cfg.MaxReasonLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Reason exceeds maximum length",
			})
		}
		if containsXSS(reason) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("reason", reason),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid reason content",
			})
		}
		c.Locals(reasonLocalsKey, reason)

		return c.Next()
	}
}

// ParseReportParams reads tenant_id, agency_id, site_id, from, to, limit, and
// fresh from the query string.
func ParseReportParams(c *fiber.Ctx, maxLimit int) (*ReportParams, error) {
	scope := models.Scope{
		TenantID: strings.TrimSpace(c.Query("tenant_id")),
		AgencyID: strings.TrimSpace(c.Query("agency_id")),
		SiteID:   strings.TrimSpace(c.Query("site_id")),
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	for _, id := range []string{scope.TenantID, scope.AgencyID, scope.SiteID} {
		if id != "" && !idPattern.MatchString(id) {
			return nil, fmt.Errorf("%w: malformed id %q", models.ErrInvalidScope, id)
		}
	}

	params := &ReportParams{Scope: scope}

	from, to := c.Query("from"), c.Query("to")
	if from != "" || to != "" {
		rng, err := parseRange(from, to)
		if err != nil {
			return nil, err
		}
		params.Range = rng
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || (maxLimit > 0 && limit > maxLimit) {
			return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, maxLimit)
		}
		params.Limit = limit
	}

	if raw := c.Query("fresh"); raw != "" {
		fresh, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid fresh flag %q", raw)
		}
		params.Fresh = fresh
	}

	return params, nil
}

func parseRange(from, to string) (*models.DateRange, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to must be given together", models.ErrInvalidRange)
	}
	f, err := time.Parse(models.DayLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: from must be YYYY-MM-DD", models.ErrInvalidRange)
	}
	t, err := time.Parse(models.DayLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to must be YYYY-MM-DD", models.ErrInvalidRange)
	}

	rng := &models.DateRange{From: f, To: t}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return rng, nil
}

// Params returns the parameters stored by Middleware, parsing them when the
// middleware did not run.
func Params(c *fiber.Ctx, maxLimit int) (*ReportParams, error) {
	if p, ok := c.Locals(paramsLocalsKey).(*ReportParams); ok {
		return p, nil
	}
	return ParseReportParams(c, maxLimit)
}

// DismissReason returns the sanitized reason stored by DismissMiddleware.
func DismissReason(c *fiber.Ctx) string {
	if r, ok := c.Locals(reasonLocalsKey).(string); ok {
		return r
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&req)
	}
	return sanitizeString(req.Reason)
}

func isListing(path string) bool {
	return strings.HasSuffix(path, "/reports") ||
		strings.HasSuffix(path, "/reports/export") ||
		strings.HasSuffix(path, "/alerts")
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
