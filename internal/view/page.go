package view

import (
	"bytes"
	"html/template"

	"github.com/BTreeMap/TemplateDesk/internal/conversation"
)

// PageData is the input of the conversation console page.
type PageData struct {
	ConversationID string
	// ActionBase is the form-post prefix, e.g. "/console/conversations/<id>".
	ActionBase string
	Transcript TranscriptView
	Preview    PreviewPanel
}

// NewPageData builds the page input from a conversation state.
func NewPageData(conversationID, actionBase string, s conversation.State) PageData {
	return PageData{
		ConversationID: conversationID,
		ActionBase:     actionBase,
		Transcript:     BuildTranscriptView(s),
		Preview:        BuildPreviewPanel(s),
	}
}

const pageStyle = `
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:0; color:#0f172a; background:#f8fafc}
    .layout{display:flex; gap:20px; padding:24px; max-width:1200px; margin:0 auto}
    .panel{flex:1; background:#fff; border:1px solid #e2e8f0; border-radius:12px; padding:16px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .transcript{height:60vh; overflow-y:auto; display:flex; flex-direction:column; gap:10px; padding-right:4px}
    .entry{max-width:80%; padding:10px 12px; border-radius:12px; white-space:pre-wrap}
    .entry.right{align-self:flex-end; background:#dbeafe}
    .entry.left{align-self:flex-start; background:#f1f5f9}
    .entry.previewed{outline:2px solid #2563eb}
    .entry form{margin-top:6px}
    .composer{display:flex; gap:8px; margin-top:12px}
    .composer input{flex:1; padding:8px 10px; border:1px solid #cbd5e1; border-radius:8px}
    button{padding:6px 12px; border-radius:8px; border:1px solid #cbd5e1; background:#fff; cursor:pointer}
    button:disabled{opacity:.45; cursor:not-allowed}
    .phone{border:1px solid #e2e8f0; border-radius:16px; padding:16px; background:#fefce8; white-space:pre-wrap}
    .phone h2{font-size:16px; margin:0 0 8px 0}
    .cta{display:block; margin-top:12px; text-align:center; padding:8px; border-radius:8px; background:#e2e8f0}
    .chip{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; margin-bottom:10px}
    .chip.approve{background:#dcfce7}
    .chip.reject{background:#fee2e2}
    .chip.error{background:#fef9c3}
    .chip.pending{background:#e0e7ff}
    .toolbar{display:flex; gap:8px; margin-top:12px}
    .notice{max-width:560px; margin:80px auto; text-align:center; color:#475569}
`

var conversationPageTmpl = template.Must(template.New("conversation").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>TemplateDesk</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <div class="layout">
    <section class="panel">
      <div class="transcript" id="transcript">
        {{- range .Transcript.Entries}}
        <div class="entry {{.Align}}{{if .Previewed}} previewed{{end}}" data-index="{{.Index}}">{{.Text}}
          {{- if .ShowPreview}}
          <form method="post" action="{{$.ActionBase}}/preview">
            <input type="hidden" name="index" value="{{.Index}}"/>
            <button type="submit"{{if not .PreviewEnabled}} disabled{{end}}>Preview this version</button>
          </form>
          {{- end}}
        </div>
        {{- end}}
      </div>
      <form class="composer" id="composer" method="post" action="{{.ActionBase}}/messages">
        <input type="text" name="text" id="composer-input" autocomplete="off" placeholder="Describe the change you want"{{if .Transcript.InputDisabled}} disabled{{end}}/>
        <button type="submit"{{if .Transcript.InputDisabled}} disabled{{end}}>Send</button>
      </form>
    </section>
    <section class="panel">
      {{- with .Preview.Indicator}}
        {{- if eq .Kind "pending"}}<span class="chip pending">Validating...</span>
        {{- else if eq .Kind "approve"}}<span class="chip approve">Likely approved {{.Label}}</span>
        {{- else if eq .Kind "reject"}}<span class="chip reject">Likely rejected {{.Label}}</span>
        {{- else if eq .Kind "error"}}<span class="chip error">{{.Label}}</span>
        {{- end}}
      {{- end}}
      {{- with .Preview.Template}}
      <div class="phone">
        <h2>{{.Title}}</h2>
        <div>{{.Text}}</div>
        {{- if .HasButton}}<span class="cta">{{.ButtonName}}</span>{{end}}
      </div>
      {{- end}}
      <div class="toolbar">
        {{- if .Preview.ShowReturnToLatest}}
        <form method="post" action="{{.ActionBase}}/latest"><button type="submit">Return to latest</button></form>
        {{- end}}
        <form method="post" action="{{.ActionBase}}/validate"><button type="submit"{{if eq .Preview.Indicator.Kind "pending"}} disabled{{end}}>Check approval</button></form>
      </div>
    </section>
  </div>
  <script>
    (function () {
      var transcript = document.getElementById('transcript');
      if (transcript) { transcript.scrollTop = transcript.scrollHeight; }
      var form = document.getElementById('composer');
      var input = document.getElementById('composer-input');
      if (!form || !input) { return; }
      form.addEventListener('submit', function (ev) {
        var text = input.value.trim();
        if (!text) { ev.preventDefault(); return; }
        input.value = text;
        setTimeout(function () { input.value = ''; }, 0);
      });
    })();
  </script>
</body>
</html>
`))

var notReadyPageTmpl = template.Must(template.New("not-ready").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>TemplateDesk</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <p class="notice">{{.}}</p>
</body>
</html>
`))

// RenderConversationPage renders the chat and preview panels.
func RenderConversationPage(data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := conversationPageTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderNotReadyPage renders a static message in place of the conversation.
func RenderNotReadyPage(message string) ([]byte, error) {
	var buf bytes.Buffer
	if err := notReadyPageTmpl.Execute(&buf, message); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
