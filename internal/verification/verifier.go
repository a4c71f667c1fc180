// Package verification is the built-in verification collaborator. It reads
// the stored content, extracts its text layer, scores how readable it is and
// stamps verified documents with a keyed digest.
package verification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	pdfutil "github.com/dharsanguruparan/ShieldVault/internal/pdf"
	"github.com/dharsanguruparan/ShieldVault/internal/signing"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

// DefaultMinConfidence is the score below which content is reported failed.
const DefaultMinConfidence = 0.6

// ContentVerifier implements tracker.Verifier.
type ContentVerifier struct {
	content       storage.ContentStore
	tokens        *signing.Signer
	minConfidence float64
	logger        *zap.Logger
}

// NewContentVerifier constructs a ContentVerifier.
func NewContentVerifier(content storage.ContentStore, tokens *signing.Signer, logger *zap.Logger) *ContentVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentVerifier{
		content:       content,
		tokens:        tokens,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
}

// Verify fetches the job's content and judges it. Infrastructure errors are
// returned; judgements are a Result.
func (v *ContentVerifier) Verify(ctx context.Context, job tracker.Job) (tracker.Result, error) {
	data, err := v.content.Fetch(ctx, job.ContentRef)
	if err != nil {
		return tracker.Result{}, fmt.Errorf("fetch content %s: %w", job.ContentRef, err)
	}
	text, pages, err := extract(job, data)
	if err != nil {
		return failed(err.Error()), nil
	}
	score := Confidence(text)
	if strings.TrimSpace(text) == "" {
		return failed("no readable text"), nil
	}
	if score < v.minConfidence {
		res := failed(fmt.Sprintf("confidence %.2f below %.2f", score, v.minConfidence))
		res.ConfidenceScore = &score
		return res, nil
	}
	v.logger.Info("content verified",
		zap.String("document_id", job.DocumentID),
		zap.String("tracking_id", job.TrackingID),
		zap.Float64("confidence", score))
	return tracker.Result{
		Status:            model.StatusVerified,
		ExtractedText:     text,
		ConfidenceScore:   &score,
		VerificationToken: v.tokens.Digest(signing.Subject(job.DocumentID, job.TrackingID), data),
		PageCount:         pages,
	}, nil
}

func extract(job tracker.Job, data []byte) (string, int, error) {
	switch {
	case job.ContentType == "application/pdf" || strings.HasSuffix(strings.ToLower(job.Name), ".pdf"):
		ex, err := pdfutil.ExtractText(data)
		if err != nil {
			return "", 0, err
		}
		return ex.Text(), ex.Pages(), nil
	case strings.HasPrefix(job.ContentType, "text/"):
		return string(data), 1, nil
	default:
		return "", 0, fmt.Errorf("unsupported content type %q", job.ContentType)
	}
}

// Confidence is the share of letters, digits, punctuation and whitespace in
// text, rounded to three places. Empty text scores 0.
func Confidence(text string) float64 {
	var total, readable int
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r) {
			readable++
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(float64(readable)/float64(total)*1000) / 1000
}

func failed(reason string) tracker.Result {
	return tracker.Result{Status: model.StatusFailed, Reason: reason}
}
