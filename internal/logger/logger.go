package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*RoundTripper)(nil)

// RoundTripper logs every outbound registry request with its status and duration.
type RoundTripper struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func NewRoundTripper(logger zerolog.Logger, next http.RoundTripper) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{logger: logger, next: next}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	logger := rt.logger.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Logger()

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		logger.Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("registry request")

		return resp, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("registry request")

	return resp, nil
}
