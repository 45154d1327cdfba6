package submission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxDelay    = 2 * time.Minute
)

var sleep = utils.WaitFor

type Config struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
	MaxDelay    time.Duration `mapstructure:"max-delay"`
}

// Retrier wraps a Submitter with bounded retries and exponential backoff.
type Retrier struct {
	submitter Submitter
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetrier(submitter Submitter, cfg Config, log *zap.Logger) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrier{
		submitter: submitter,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (r *Retrier) WithClock(now func() time.Time) *Retrier {
	r.now = now
	return r
}

// Backoff returns the delay after the given zero based attempt.
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := r.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return d
}

// Submit performs up to MaxAttempts submissions. It never returns nil.
func (r *Retrier) Submit(ctx context.Context, p *posting.Posting, content Content, creds *Credentials) *Result {
	res := &Result{PostingID: p.ID, PostingURL: p.URL}
	log := logger.WithFields(r.logger, logger.PostingFields(p.ID, p.URL)...)
	haveCreds := creds.Present()

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Status = StatusFailed
			res.ErrorKind = kindFromError(err)
			res.Error = err.Error()
			return res
		}

		rec := Attempt{Number: attempt + 1, At: r.now()}
		res.RetryCount = rec.Number

		out, err := r.submitter.Submit(ctx, p, content, creds)
		if err != nil {
			out = Outcome{Status: StatusFailed, ErrorKind: kindFromError(err), Message: err.Error()}
		}
		rec.Status = out.Status

		if out.Status == StatusSubmitted {
			res.Attempts = append(res.Attempts, rec)
			res.Status = StatusSubmitted
			res.ConfirmationID = out.ConfirmationID
			res.ErrorKind = ""
			res.Error = ""
			res.SubmittedAt = r.now()
			log.Info("application submitted",
				zap.Int("attempts", rec.Number),
				zap.String("confirmation_id", out.ConfirmationID),
			)
			return res
		}

		kind := outcomeKind(out)
		rec.ErrorKind = kind
		rec.Error = out.Message
		res.ErrorKind = kind
		res.Error = out.Message

		class := Classify(kind, haveCreds)
		if out.Status == StatusRequiresManual {
			class = Terminal
		}
		if class == Terminal {
			res.Attempts = append(res.Attempts, rec)
			res.Status = StatusRequiresManual
			log.Warn("submission requires manual review",
				zap.String("error_kind", string(kind)),
				zap.String("error", out.Message),
			)
			return res
		}

		if attempt == r.cfg.MaxAttempts-1 {
			res.Attempts = append(res.Attempts, rec)
			break
		}

		delay := r.Backoff(attempt)
		rec.Backoff = delay
		res.Attempts = append(res.Attempts, rec)

		fields := []zap.Field{
			zap.Int("attempt", rec.Number),
			zap.Duration("backoff", delay),
			zap.String("error_kind", string(kind)),
		}
		if class == RateLimitedClass {
			log.Warn("rate limited by site, backing off", fields...)
		} else {
			log.Info("submission attempt failed, retrying", append(fields, zap.String("error", out.Message))...)
		}

		if err := sleep(ctx, delay); err != nil {
			res.Status = StatusFailed
			res.ErrorKind = kindFromError(err)
			res.Error = err.Error()
			return res
		}
	}

	res.Status = StatusFailed
	log.Warn("submission failed after retries",
		zap.Int("attempts", res.RetryCount),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.String("error", res.Error),
	)
	return res
}

func outcomeKind(out Outcome) ErrorKind {
	if out.ErrorKind != "" {
		return out.ErrorKind
	}
	if out.Status == StatusRateLimited {
		return ErrRateLimited
	}
	return ErrUnknown
}
