package notify

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

const emailStyle = `
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #2a9d8f; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.credentials { background-color: #fff; border: 1px solid #ddd; padding: 10px 15px; margin: 10px 0; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
`

var approvalHTML = htmltemplate.Must(htmltemplate.New("approval.html").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>` + emailStyle + `</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>{{.Organization}}</h1>
		</div>
		<div class="content">
			<p>Hi {{.ParentName}},</p>
			{{if .Accounts}}
			<p>Your family request has been approved. Here are the login details for your children:</p>
			{{range .Accounts}}
			<div class="credentials">
				<p><strong>{{.Child.Name}}</strong></p>
				<p>Username: <code>{{.Username}}</code><br>Initial password: <code>{{.Secret}}</code></p>
			</div>
			{{end}}
			<p>Please ask your children to change their password after the first login.</p>
			{{end}}
			{{if .Failures}}
			<p>We could not set up an account for:</p>
			<ul>
				{{range .Failures}}<li>{{.Child.Name}}: {{.Reason}}</li>{{end}}
			</ul>
			<p>The school will be in touch about these.</p>
			{{end}}
		</div>
		<div class="footer">
			<p>This is an automated email from {{.Organization}}. Please do not reply.</p>
		</div>
	</div>
</body>
</html>
`))

var approvalText = texttemplate.Must(texttemplate.New("approval.txt").Parse(`Hi {{.ParentName}},
{{if .Accounts}}
Your family request has been approved. Here are the login details for your children:
{{range .Accounts}}
{{.Child.Name}}
  Username: {{.Username}}
  Initial password: {{.Secret}}
{{end}}
Please ask your children to change their password after the first login.
{{end}}{{if .Failures}}
We could not set up an account for:
{{range .Failures}}- {{.Child.Name}}: {{.Reason}}
{{end}}
The school will be in touch about these.
{{end}}
---
This is an automated email from {{.Organization}}. Please do not reply.
`))

var rejectionHTML = htmltemplate.Must(htmltemplate.New("rejection.html").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>` + emailStyle + `</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>{{.Organization}}</h1>
		</div>
		<div class="content">
			<p>Hi {{.ParentName}},</p>
			<p>Unfortunately we could not accept your family request at this time.</p>
			{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
			<p>Please contact the school if you have any questions.</p>
		</div>
		<div class="footer">
			<p>This is an automated email from {{.Organization}}. Please do not reply.</p>
		</div>
	</div>
</body>
</html>
`))

var rejectionText = texttemplate.Must(texttemplate.New("rejection.txt").Parse(`Hi {{.ParentName}},

Unfortunately we could not accept your family request at this time.
{{if .Reason}}
Reason: {{.Reason}}
{{end}}
Please contact the school if you have any questions.

---
This is an automated email from {{.Organization}}. Please do not reply.
`))
