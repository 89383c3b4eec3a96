package digest

import (
	"html/template"
)

var bodyTemplate = template.Must(template.New("digest").Parse(`<html>
  <head><meta charset="utf-8"></head>
  <body>
    <div>
      <p>Dear {{.ApproverName}},</p>
      <p>The following SAP documents are pending for your approval. Kindly review and approve them at the earliest:</p>
{{- if .PortalURL}}
      <p><a href="{{.PortalURL}}">Open the approval portal</a></p>
{{- end}}
{{- range .Groups}}
      <details open>
        <summary>{{.DisplayName}} ({{.Count}})</summary>
{{- range .Display}}
        <div class="doc-number">{{.}}</div>
{{- end}}
      </details>
{{- end}}
      <p>Regards,<br>
      {{.Signature}}</p>
    </div>
  </body>
</html>
`))

type bodyData struct {
	ApproverName string
	PortalURL    string
	Signature    string
	Groups       []groupView
}

type groupView struct {
	DisplayName string
	Count       int
	Display     []string
}
