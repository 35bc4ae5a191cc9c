// Package logging builds the process logger and scopes it to a request.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/shinyyama/remu-backend/internal/reqctx"
	"github.com/sirupsen/logrus"
)

func New(level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// FromContext attaches the request id and uid carried by ctx.
func FromContext(ctx context.Context, l logrus.FieldLogger) logrus.FieldLogger {
	fields := logrus.Fields{}
	if rid := reqctx.RID(ctx); rid != "" {
		fields["rid"] = rid
	}
	if uid := reqctx.UID(ctx); uid != "" {
		fields["uid"] = uid
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

// Discard is a logger for tests and tools that should stay quiet.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
