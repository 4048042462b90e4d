package video_fetcher

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// PresentationConfig controls how a probed source is described to the user.
type PresentationConfig interface {
	Caption(resolution *Resolution) (string, error)
}

type presentationConfig struct {
	CaptionTemplate *template.Template
}

var captionFuncs = template.FuncMap{
	"clock": FormatDuration,
}

func NewPresentationConfig() PresentationConfig {
	return &presentationConfig{
		CaptionTemplate: template.Must(template.New("caption").Funcs(captionFuncs).Parse(
			"🎬 {{.Info.Title}}\n⏱ {{clock .Info.Duration}}\n🌐 {{.ProviderName}}",
		)),
	}
}

// NewPresentationConfigFromTemplate parses a caption template, which sees .ProviderName and .Info.
func NewPresentationConfigFromTemplate(text string) (PresentationConfig, error) {
	tmpl, err := template.New("caption").Funcs(captionFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	return &presentationConfig{CaptionTemplate: tmpl}, nil
}

func (c *presentationConfig) Caption(resolution *Resolution) (string, error) {
	args := captionTemplateArgs{
		ProviderName: resolution.ProviderName,
		Info:         resolution.Info(),
	}
	builder := strings.Builder{}
	if err := c.CaptionTemplate.Execute(&builder, &args); err != nil {
		return "", err
	}
	return builder.String(), nil
}

type captionTemplateArgs struct {
	ProviderName string
	Info         SourceInfo
}

// FormatDuration renders a duration as m:ss or h:mm:ss.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "?"
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
