package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"voice-intake/internal/domain"
	"voice-intake/internal/logging"
)

// Permission categories returned by the model.
const (
	categoryAccept     = "aceptar_llamada"
	categoryReject     = "rechazar_llamada"
	categoryEmail      = "pedir_correo"
	categoryWhatsApp   = "pedir_whatsapp"
	categoryReschedule = "reagendar_llamada"
	categoryWait       = "esperar_minutos"
)

var permissionCategories = []string{
	categoryAccept, categoryReject, categoryEmail,
	categoryWhatsApp, categoryReschedule, categoryWait,
}

// PermissionClassifier asks the model which category the caller's answer to
// the permission question falls into. Only an explicit acceptance proceeds;
// every other known category means the caller will be contacted later.
type PermissionClassifier struct {
	client  InferenceClient
	timeout time.Duration
	logger  *slog.Logger
}

func NewPermissionClassifier(client InferenceClient, timeout time.Duration, logger *slog.Logger) *PermissionClassifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PermissionClassifier{client: client, timeout: timeout, logger: logger}
}

// Classify returns IntentUnknown when the model fails or answers outside the
// known categories.
func (p *PermissionClassifier) Classify(ctx context.Context, text string) domain.Intent {
	if p == nil || p.client == nil || strings.TrimSpace(text) == "" {
		return domain.IntentUnknown
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	answer, err := p.client.Complete(ctx, permissionPrompt(text), p.timeout)
	if err != nil {
		p.logger.Warn("permission classification failed", "err", err)
		return domain.IntentUnknown
	}
	category := parseCategory(answer)
	switch category {
	case "":
		p.logger.Debug("permission answer not recognised", "answer", answer)
		return domain.IntentUnknown
	case categoryAccept:
		return domain.IntentAccept
	default:
		p.logger.Info("caller deferred the call", "category", category)
		return domain.IntentRefuse
	}
}

func parseCategory(answer string) string {
	answer = strings.ToLower(strings.TrimSpace(answer))
	for _, c := range permissionCategories {
		if strings.Contains(answer, c) {
			return c
		}
	}
	return ""
}
