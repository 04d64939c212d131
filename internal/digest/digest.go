// Package digest classifies a batch of pending reports and renders it into a
// chat message. Everything here is pure: no I/O, no clock, inputs untouched.
package digest

import (
	"sort"
	"strings"

	"anomalyd/internal/model"
)

// Case is the classification of a report batch.
type Case int

const (
	// CaseNone means nothing to send.
	CaseNone Case = iota
	CaseNormal
	CaseError
	CaseNoData
)

func (c Case) String() string {
	switch c {
	case CaseNormal:
		return "normal"
	case CaseError:
		return "error"
	case CaseNoData:
		return "nodata"
	default:
		return "none"
	}
}

// Pending keeps the reports that still await notification, in input order.
func Pending(reports []model.Report) []model.Report {
	var out []model.Report
	for _, r := range reports {
		if r.Pending() {
			out = append(out, r)
		}
	}
	return out
}

// Classify: a single ERROR report is the error case, a single NODATA report
// is the no-data case, any other non-empty batch is normal.
func Classify(reports []model.Report) Case {
	switch {
	case len(reports) == 0:
		return CaseNone
	case len(reports) == 1 && reports[0].Status == model.StatusError:
		return CaseError
	case len(reports) == 1 && reports[0].Status == model.StatusNoData:
		return CaseNoData
	default:
		return CaseNormal
	}
}

// Text is a Block Kit text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is a section (Text set) or a divider.
type Block struct {
	Type string `json:"type"`
	Text *Text  `json:"text,omitempty"`
}

const (
	BlockSection = "section"
	BlockDivider = "divider"
)

func section(s string) Block { return Block{Type: BlockSection, Text: &Text{Type: "mrkdwn", Text: s}} }
func divider() Block         { return Block{Type: BlockDivider} }

// Message is what a Sender delivers: a summary line plus ordered blocks.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// PlainText flattens the message for channels without block support.
func (m Message) PlainText() string {
	var b strings.Builder
	b.WriteString(m.Text)
	for _, blk := range m.Blocks {
		b.WriteByte('\n')
		if blk.Type == BlockDivider {
			b.WriteString("----")
			continue
		}
		if blk.Text != nil {
			b.WriteString(strings.TrimRight(blk.Text.Text, "\n"))
		}
	}
	return b.String()
}

var mentionAliases = map[string]string{
	"@here":     "<!here|here>",
	"@channel":  "<!channel|channel>",
	"@everyone": "<!everyone|everyone>",
}

// Mention renders a target mention: the reserved aliases map to their
// platform form case-insensitively, anything else to a user reference.
func Mention(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if alias, ok := mentionAliases[strings.ToLower(m)]; ok {
		return alias
	}
	return "<" + m + ">"
}

// Render builds the message for target t. The reports are sorted on a copy
// by window then id, so equal input yields an identical message.
func Render(t model.Target, c Case, reports []model.Report) Message {
	sorted := make([]model.Report, len(reports))
	for i, r := range reports {
		sorted[i] = r.Clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].NominalTime.Equal(sorted[j].NominalTime) {
			return sorted[i].NominalTime.Before(sorted[j].NominalTime)
		}
		return sorted[i].ID < sorted[j].ID
	})

	title := "*Anomaly Report:*"
	body := normalSection
	if c == CaseError || c == CaseNoData {
		title = "*Anomaly Report ERROR:*"
		body = errorSection
	}

	blocks := make([]Block, 0, 2*len(sorted)+4)
	blocks = append(blocks, section(title), section(header(t)), divider())
	for _, r := range sorted {
		blocks = append(blocks, section(body(r)), divider())
	}
	blocks = append(blocks, divider())
	return Message{Text: "Anomaly Report for " + t.ID, Blocks: blocks}
}

func header(t model.Target) string {
	return strings.Join([]string{t.Icon, t.Name, Mention(t.Mention)}, " ")
}

func normalSection(r model.Report) string {
	var b strings.Builder
	line(&b, "Metric", r.Metric)
	line(&b, "Group By Dimensions", r.GroupBy)
	line(&b, "Anomaly Info", r.FormattedAnomalyTimes())
	line(&b, "Metric Deviation", r.FormattedDeviation())
	line(&b, "Job Status", string(r.Status))
	line(&b, "Model Info", r.ModelInfo)
	line(&b, "Visualization Link", r.QueryURL)
	return b.String()
}

func errorSection(r model.Report) string {
	var b strings.Builder
	line(&b, "Anomaly Test Name", r.TestName)
	line(&b, "Report Time(Latest missing datapoint)", r.FormattedGeneratedAt())
	line(&b, "Job Status", string(r.Status))
	line(&b, "Visualization Link", r.QueryURL)
	return b.String()
}

func line(b *strings.Builder, label, value string) {
	b.WriteString("*")
	b.WriteString(label)
	b.WriteString(":* `")
	b.WriteString(value)
	b.WriteString("`\n")
}
