package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/posting"
	"github.com/spigell/autoapply/internal/submission"
	"github.com/spigell/autoapply/internal/utils"
)

const maxMessageLength = 200

var captchaMarker = []byte("captcha")

type applicationResponse struct {
	ID string `json:"id"`
}

// Submit posts one application form. An error is returned only when the
// request could not be made; every HTTP answer becomes an outcome.
func (c *Client) Submit(ctx context.Context, p *posting.Posting, content submission.Content, creds *submission.Credentials) (submission.Outcome, error) {
	data := map[string]string{
		"posting_url": p.URL,
		"posting_id":  p.ID,
	}
	if content.Resume != nil {
		data["resume"] = content.Resume.Body
		data["resume_id"] = content.Resume.ID
	}
	if content.CoverLetter != nil {
		data["cover_letter"] = content.CoverLetter.Body
	}
	haveCreds := creds.Present()
	if haveCreds {
		data["username"] = creds.Username
		data["password"] = creds.Password
	}

	resp, err := c.postFormData(ctx, c.APIURL+applicationsPath, data)
	if err != nil {
		return submission.Outcome{}, err
	}

	out := outcomeFor(resp, haveCreds)
	c.logger.Debug("application answered",
		append(logger.PostingFields(p.ID, p.URL),
			zap.Int("http_status", resp.StatusCode),
			zap.String("status", string(out.Status)),
			zap.String("error_kind", string(out.ErrorKind)),
		)...,
	)
	return out, nil
}

func outcomeFor(resp *formResponse, haveCreds bool) submission.Outcome {
	message := utils.TruncateForLog(string(resp.Body), maxMessageLength)
	if message == "" {
		message = resp.Status
	}
	failed := func(kind submission.ErrorKind) submission.Outcome {
		return submission.Outcome{Status: submission.StatusFailed, ErrorKind: kind, Message: message}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusCreated || code == http.StatusOK:
		var body applicationResponse
		// The application is accepted even when the confirmation cannot be read.
		_ = json.Unmarshal(resp.Body, &body)
		return submission.Outcome{Status: submission.StatusSubmitted, ConfirmationID: body.ID}
	case code == http.StatusTooManyRequests:
		return submission.Outcome{Status: submission.StatusRateLimited, ErrorKind: submission.ErrRateLimited, Message: message}
	case code == http.StatusForbidden && bytes.Contains(bytes.ToLower(resp.Body), captchaMarker):
		return failed(submission.ErrCaptchaRequired)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		if haveCreds {
			return failed(submission.ErrInvalidCredentials)
		}
		return failed(submission.ErrLoginRequired)
	case code == http.StatusNotFound:
		return failed(submission.ErrFormNotFound)
	case code == http.StatusRequestEntityTooLarge:
		return failed(submission.ErrUploadFailed)
	case code >= http.StatusInternalServerError:
		return failed(submission.ErrSiteUnavailable)
	default:
		out := failed(submission.ErrUnknown)
		out.Message = fmt.Sprintf("unexpected status %s: %s", resp.Status, message)
		return out
	}
}
