// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	ConferenceIDKey  contextKey = "conference_id"
	ParticipantIDKey contextKey = "participant_id"
	BridgeIDKey      contextKey = "bridge_id"
)

// Initialize sets up the global logger based on the environment. Safe to
// call multiple times; only the first call has an effect.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger instance, falling back to a development
// logger if Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, appendContextFields(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().Debug(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok && cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if rid, ok := ctx.Value(ConferenceIDKey).(string); ok && rid != "" {
		fields = append(fields, zap.String("conference_id", rid))
	}
	if pid, ok := ctx.Value(ParticipantIDKey).(string); ok && pid != "" {
		fields = append(fields, zap.String("participant_id", pid))
	}
	if bid, ok := ctx.Value(BridgeIDKey).(string); ok && bid != "" {
		fields = append(fields, zap.String("bridge_id", bid))
	}
	fields = append(fields, zap.String("service", "focus"))
	return fields
}

// WithConferenceID returns a derived context carrying the conference ID for
// automatic log attachment.
func WithConferenceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConferenceIDKey, id)
}

// WithParticipantID returns a derived context carrying the participant ID.
func WithParticipantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ParticipantIDKey, id)
}

// RedactJID masks all but the resource part of a JID-shaped identifier so
// logs don't leak a participant's bare JID.
func RedactJID(jid string) string {
	if jid == "" {
		return ""
	}
	idx := strings.LastIndex(jid, "/")
	if idx < 0 || idx == len(jid)-1 {
		return "***"
	}
	return "***" + jid[idx:]
}

// RedactEmail masks the local part of an email address.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return "***" + email[at:]
}
