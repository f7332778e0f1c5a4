// Package gateway admits requests onto protected operations. Admission is a
// staged pipeline: authenticate the bearer token, then authorize the claimed
// role against a capability. Each stage returns a tagged error and later
// stages never run after a failure, so a handler body only ever executes
// behind a verified identity.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-lms/meridian-lms/internal/capability"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/token"
)

// DecisionRecorder receives one record per gateway decision, allow and deny
// alike. The pgx-backed shared.AuditLogger satisfies this in production.
type DecisionRecorder interface {
	Record(ctx context.Context, log shared.DecisionLog) error
}

// Pipeline evaluates the admission stages for a request.
type Pipeline struct {
	tokens  *token.Service
	audit   DecisionRecorder
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline constructs a Pipeline. Audit and metrics may be nil in tests;
// decisions are then evaluated but not recorded.
func NewPipeline(tokens *token.Service, audit DecisionRecorder, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tokens:  tokens,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate runs stages one and two: extract the bearer token, then verify
// it. A missing header is distinguished from a failing token so clients know
// whether to re-attach or re-login; every verification failure collapses to
// one wire code so the response never reveals which check rejected it.
func (p *Pipeline) Authenticate(headerValue string) (shared.Identity, *shared.Error) {
	raw, ok := token.ExtractFromHeader(headerValue)
	if !ok {
		return shared.Identity{}, shared.Authentication(shared.CodeMissingToken, "authorization bearer token is missing")
	}

	claims, err := p.tokens.Verify(raw)
	if err != nil {
		collapsed := shared.Authentication(shared.CodeInvalidToken, "token is invalid or expired")
		return shared.Identity{}, collapsed.WithCause(err)
	}

	return shared.Identity{SubjectID: claims.SubjectID, Role: claims.Role}, nil
}

// Authorize runs stage three: the identity's role must hold the capability.
// The failure message names the allowed role set and nothing else, never the
// resource or its owner.
func (p *Pipeline) Authorize(id shared.Identity, cap capability.Capability) *shared.Error {
	if capability.HasPermission(id.Role, cap) {
		return nil
	}
	return shared.Authorization("requires role " + describeRoles(capability.RolesAllowed(cap)))
}

// record writes the decision to the audit sink and metrics. Recording is
// best-effort: a failing sink is logged and never turns an allow into a deny.
func (p *Pipeline) record(ctx context.Context, id shared.Identity, decision, code, path string) {
	p.metrics.RecordAuthDecision(decision, code)
	if p.audit == nil {
		return
	}
	entry := shared.DecisionLog{
		SubjectID: id.SubjectID,
		Role:      string(id.Role),
		Decision:  decision,
		Code:      code,
		Path:      path,
		At:        p.now().UTC(),
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		p.logger.Warn("audit decision record", slog.Any("error", err), slog.String("path", path))
	}
}

// internalCode digs the stage-specific code out of an authentication failure
// for audit purposes. The wire response keeps the collapsed code; operators
// get to see whether the token was malformed, forged, or merely expired.
func internalCode(err *shared.Error) string {
	cause := err.Unwrap()
	if cause == nil {
		return err.Code
	}
	var tagged *shared.Error
	if errors.As(cause, &tagged) {
		return tagged.Code
	}
	return err.Code
}

func describeRoles(roles []capability.Role) string {
	parts := make([]string, len(roles))
	for i, role := range roles {
		parts[i] = string(role)
	}
	return strings.Join(parts, " or ")
}
