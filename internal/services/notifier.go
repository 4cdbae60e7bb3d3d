package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/mabini-abc/portal/internal/models"
)

// ResetNotifier is told about reset workflow transitions after they commit.
type ResetNotifier interface {
	ResetRequested(ctx context.Context, req *models.ResetRequest) error
	ResetReviewed(ctx context.Context, req *models.ResetRequest) error
}

// NopNotifier discards notifications. Used when email is disabled.
type NopNotifier struct{}

func (NopNotifier) ResetRequested(context.Context, *models.ResetRequest) error { return nil }
func (NopNotifier) ResetReviewed(context.Context, *models.ResetRequest) error  { return nil }

// SESAPI is the subset of the SES client used for sending mail.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends reset workflow emails using AWS SES
type SESNotifier struct {
	client       SESAPI
	fromAddress  string
	adminAddress string
	portalURL    string
	logger       *slog.Logger
}

// NewSESNotifier loads the default AWS configuration for region and creates an SES notifier
func NewSESNotifier(ctx context.Context, region, fromAddress, adminAddress, portalURL string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, adminAddress, portalURL, logger), nil
}

// NewSESNotifierWithClient creates an SES notifier around an existing client
func NewSESNotifierWithClient(client SESAPI, fromAddress, adminAddress, portalURL string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:       client,
		fromAddress:  fromAddress,
		adminAddress: adminAddress,
		portalURL:    portalURL,
		logger:       logger,
	}
}

// ResetRequested tells the administrator mailbox that a request awaits review.
// It is a no-op when no administrator address is configured.
func (n *SESNotifier) ResetRequested(ctx context.Context, req *models.ResetRequest) error {
	if n.adminAddress == "" {
		return nil
	}

	reviewLink := n.portalURL + "/admin/reset-requests"
	subject := "Password reset request awaiting review"
	text := fmt.Sprintf(`A password reset was requested for %s (barangay %s).

The account stays locked until the request is reviewed:
%s
`, req.AccountEmail, displayBarangay(req), reviewLink)
	body := fmt.Sprintf(`<p>A password reset was requested for <strong>%s</strong> (barangay %s).</p>
<p>The account stays locked until the request is reviewed.</p>
<p><a href="%s">Review pending requests</a></p>`,
		html.EscapeString(req.AccountEmail), html.EscapeString(displayBarangay(req)), html.EscapeString(reviewLink))

	return n.send(ctx, n.adminAddress, subject, text, body)
}

// ResetReviewed tells the requester how their request was decided.
func (n *SESNotifier) ResetReviewed(ctx context.Context, req *models.ResetRequest) error {
	var subject, text string
	switch req.Status {
	case models.ResetStatusApproved:
		subject = "Your password reset was approved"
		text = fmt.Sprintf("Your password reset request was approved. You can now sign in at %s with your new password.\n", n.portalURL)
	case models.ResetStatusRejected:
		reason := models.DefaultRejectionReason
		if req.RejectionReason != nil && *req.RejectionReason != "" {
			reason = *req.RejectionReason
		}
		subject = "Your password reset was rejected"
		text = fmt.Sprintf("Your password reset request was rejected: %s\nYour previous password is still valid.\n", reason)
	default:
		return fmt.Errorf("reset request %d has not been reviewed", req.ID)
	}

	return n.send(ctx, req.AccountEmail, subject, text, "<p>"+html.EscapeString(text)+"</p>")
}

func (n *SESNotifier) send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	attrs := []any{slog.String("subject", subject)}
	if result != nil && result.MessageId != nil {
		attrs = append(attrs, slog.String("message_id", *result.MessageId))
	}
	n.logger.InfoContext(ctx, "notification email sent", attrs...)
	return nil
}

func displayBarangay(req *models.ResetRequest) string {
	if req.AccountBarangay == "" {
		return "unassigned"
	}
	return req.AccountBarangay
}
