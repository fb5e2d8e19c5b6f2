package report

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const sendTimeout = 10 * time.Second

type Sink interface {
	Name() string
	Send(ctx context.Context, records []Record) error
}

// Notify hands records to every sink. Sink failures are logged and never
// returned, so reporting cannot change the outcome of a run.
func Notify(ctx context.Context, log zerolog.Logger, records []Record, sinks ...Sink) {
	for _, sink := range sinks {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		err := sink.Send(sendCtx, records)
		cancel()

		if closer, ok := sink.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil {
				log.Debug().Str("sink", sink.Name()).Err(closeErr).Msg("failed to close sink")
			}
		}

		if err != nil {
			log.Warn().Str("sink", sink.Name()).Err(err).Msg("failed to report results")
			continue
		}

		log.Debug().Str("sink", sink.Name()).Int("records", len(records)).Msg("results reported")
	}
}
