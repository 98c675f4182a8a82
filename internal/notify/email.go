// Package notify drafts customer-facing emails for assessed refund requests.
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/opensource-finance/refundguard/internal/domain"
)

// Draft is an email ready for a merchant to review and send.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

const (
	subjectUpdate   = "Update on your refund request"
	subjectRequired = "Action required: Your refund request"
	signature       = "Best regards,\nThe Customer Service Team"
)

var bodies = template.Must(template.New("email").Parse(`
{{- define "APPROVE" -}}
Hi {{.FirstName}},

We have good news regarding your refund request for order {{.OrderNumber}}.

After reviewing your case, we have approved your refund of ${{.Amount}}. You should see it on your original payment method within 5-10 business days.

We apologize for any inconvenience caused. We value your business and hope to serve you better next time.

{{.Signature}}
{{- end}}

{{- define "REJECT" -}}
Hi {{.FirstName}},

Thank you for contacting us regarding order {{.OrderNumber}}.

We have carefully reviewed your refund request. Unfortunately, we are unable to approve it at this time for the following reason(s):

{{range .Points}}- {{.}}
{{end}}
{{- if .Alternative}}
However, we would like to offer the following: {{.Alternative}}
{{end}}
If you have any additional information that might help us reconsider, please let us know.

{{.Signature}}
{{- end}}

{{- define "FLAG" -}}
Hi {{.FirstName}},

Thank you for your refund request for order {{.OrderNumber}}.

We are currently reviewing your case, but we need a bit more information to proceed. Could you please help with the following:

{{range .Points}}- {{.}}
{{end}}
Once we receive this, we will be able to finalize your request promptly.

{{.Signature}}
{{- end}}
`))

type emailData struct {
	FirstName   string
	OrderNumber string
	Amount      string
	Points      []string
	Alternative string
	Signature   string
}

// Compose renders the email for a stored assessment.
func Compose(a *domain.Assessment) (*Draft, error) {
	if a == nil || a.Result == nil {
		return nil, fmt.Errorf("assessment has no result")
	}

	data := emailData{
		FirstName:   FirstName(a.CustomerName),
		OrderNumber: a.OrderNumber,
		Points:      a.Result.SuggestedAction.TalkingPoints,
		Alternative: a.Result.SuggestedAction.Alternative,
		Signature:   signature,
	}
	if a.Request != nil {
		data.Amount = a.Request.RefundAmount.StringFixed(2)
	}

	subject := subjectUpdate
	if a.Result.Action == domain.ActionFlag {
		subject = subjectRequired
	}

	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(a.Result.Action), data); err != nil {
		return nil, fmt.Errorf("render %s email: %w", a.Result.Action, err)
	}

	return &Draft{
		To:      a.CustomerEmail,
		Subject: subject,
		Body:    buf.String(),
	}, nil
}

// FirstName returns the first word of a customer name, or "Customer".
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "Customer"
	}
	return fields[0]
}
