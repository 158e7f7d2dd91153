package audit

// Logger matches the narrow logging interface used across the service layer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogSink writes audit events to the structured log. Suspicious events are
// logged at error level with a security-alert marker so external alerting
// can key on them.
type LogSink struct {
	logger Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(event Event) {
	args := []any{
		"kind", string(event.Kind),
		"document_id", event.DocumentID,
		"user_id", event.UserID,
		"action", event.Action,
		"success", event.Success,
		"classification", event.Classification.String(),
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	for k, v := range event.Context {
		args = append(args, "ctx_"+k, v)
	}

	if event.Suspicious {
		args = append(args, "security_alert", true)
		s.logger.Error("suspicious activity", args...)
		return
	}
	s.logger.Info("audit", args...)
}
