package email

import (
	"fmt"
	"html"
	"time"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>%[1]s</title></head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;">
  <tr><td style="padding:32px 40px 16px;"><h1 style="margin:0;font-size:22px;color:#1a1a2e;">%[1]s</h1></td></tr>
  <tr><td style="padding:0 40px 24px;font-size:15px;color:#4a4a68;line-height:1.6;">%[2]s</td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;font-size:12px;color:#aaaabc;text-align:center;">
    %[3]s security notification. Please do not reply.
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`

// LockoutAlert builds the message sent when repeated failed MFA codes lock
// an account.
func LockoutAlert(to, appName string, lockedUntil time.Time) Message {
	until := lockedUntil.UTC().Format("2006-01-02 15:04 MST")
	subject := fmt.Sprintf("%s: sign-in temporarily locked", appName)

	body := fmt.Sprintf(`<p>We blocked further verification attempts on your <strong>%s</strong> account after too many incorrect codes.</p>
<p>You can try again after <strong>%s</strong>. If this wasn't you, contact your administrator right away.</p>`,
		html.EscapeString(appName), until)

	text := fmt.Sprintf(`We blocked further verification attempts on your %s account after too many incorrect codes.

You can try again after %s. If this wasn't you, contact your administrator right away.`, appName, until)

	return Message{
		To:       to,
		Subject:  subject,
		HTMLBody: fmt.Sprintf(layout, html.EscapeString(subject), body, html.EscapeString(appName)),
		TextBody: text,
	}
}

// MFADisabledAlert builds the message sent when two-step verification is
// turned off.
func MFADisabledAlert(to, appName string, at time.Time) Message {
	when := at.UTC().Format("2006-01-02 15:04 MST")
	subject := fmt.Sprintf("%s: two-step verification turned off", appName)

	body := fmt.Sprintf(`<p>Two-step verification was turned off for your <strong>%s</strong> account at %s.</p>
<p>If you didn't do this, reset your password and contact your administrator.</p>`,
		html.EscapeString(appName), when)

	text := fmt.Sprintf(`Two-step verification was turned off for your %s account at %s.

If you didn't do this, reset your password and contact your administrator.`, appName, when)

	return Message{
		To:       to,
		Subject:  subject,
		HTMLBody: fmt.Sprintf(layout, html.EscapeString(subject), body, html.EscapeString(appName)),
		TextBody: text,
	}
}
