package provider

import (
	"fmt"
	"html"
	"strings"

	"github.com/kursadbilgin/notify-relay/internal/domain"
)

const defaultGreetingName = "User"

// stringVariable returns the first non-empty string variable among keys.
func stringVariable(job *domain.Job, keys ...string) string {
	for _, key := range keys {
		value, ok := job.Variables[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func emailSubject(job *domain.Job) string {
	if subject := stringVariable(job, "subject"); subject != "" {
		return subject
	}
	return fmt.Sprintf("Notification: %s", job.TemplateCode)
}

func emailBodies(job *domain.Job) (text string, htmlBody string) {
	name := stringVariable(job, "name")
	if name == "" {
		name = defaultGreetingName
	}

	text = fmt.Sprintf("Hello %s, Your notification %q has been triggered.", name, job.TemplateCode)
	htmlBody = fmt.Sprintf(
		"<p>Hello %s,</p><p>Your notification &quot;%s&quot; has been triggered.</p>",
		html.EscapeString(name),
		html.EscapeString(job.TemplateCode),
	)
	return text, htmlBody
}

func pushTitle(job *domain.Job) string {
	if title := stringVariable(job, "title"); title != "" {
		return title
	}
	return job.TemplateCode
}

func pushBody(job *domain.Job) string {
	if body := stringVariable(job, "message", "body"); body != "" {
		return body
	}
	return fmt.Sprintf("Your notification %q has been triggered.", job.TemplateCode)
}
